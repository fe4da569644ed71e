// Package config loads and validates the quoter configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SourceConfig describes one native price source taking part in the
// competition. Sources sharing a stage are raced in parallel; lower stages
// run first.
type SourceConfig struct {
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
	Stage int    `mapstructure:"stage"`
}

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	Development bool   `mapstructure:"development"`
	LogFile     string `mapstructure:"log_file"`

	Sources              []SourceConfig `mapstructure:"sources"`
	EarlyReturnThreshold int            `mapstructure:"early_return_threshold"`
	SourceRetries        int            `mapstructure:"source_retries"`

	CacheMaxAgeMs           int `mapstructure:"cache_max_age_ms"`
	CacheUpdateIntervalMs   int `mapstructure:"cache_update_interval_ms"`
	CachePrefetchMs         int `mapstructure:"cache_prefetch_ms"`
	CacheUpdateSize         int `mapstructure:"cache_update_size"`
	CacheConcurrentRequests int `mapstructure:"cache_concurrent_requests"`
	BatchIntervalMs         int `mapstructure:"batch_interval_ms"`
}

const (
	DefaultListenAddr            = ":8080"
	DefaultSourceRetries         = 3
	DefaultCacheMaxAgeMs         = 30_000
	DefaultCacheUpdateIntervalMs = 1_000
	DefaultCachePrefetchMs       = 2_000
	DefaultCacheUpdateSize       = 200
	DefaultCacheConcurrent       = 10
	DefaultBatchIntervalMs       = 200
)

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"listen_addr":               DefaultListenAddr,
		"source_retries":            DefaultSourceRetries,
		"cache_max_age_ms":          DefaultCacheMaxAgeMs,
		"cache_update_interval_ms":  DefaultCacheUpdateIntervalMs,
		"cache_prefetch_ms":         DefaultCachePrefetchMs,
		"cache_update_size":         DefaultCacheUpdateSize,
		"cache_concurrent_requests": DefaultCacheConcurrent,
		"batch_interval_ms":         DefaultBatchIntervalMs,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("QUOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.New("no price sources configured")
	}
	for _, source := range cfg.Sources {
		if source.Name == "" {
			return errors.New("price source without a name")
		}
		if err := validateURL(source.URL); err != nil {
			return fmt.Errorf("price source %s: %w", source.Name, err)
		}
		if source.Stage < 0 {
			return fmt.Errorf("price source %s: negative stage", source.Name)
		}
	}
	if cfg.EarlyReturnThreshold < 0 {
		return errors.New("invalid early_return_threshold")
	}
	if cfg.EarlyReturnThreshold > len(cfg.Sources) {
		return errors.New("early_return_threshold exceeds the number of sources")
	}
	if cfg.SourceRetries < 0 {
		return errors.New("invalid source_retries")
	}
	if cfg.CacheMaxAgeMs <= 0 {
		return errors.New("invalid cache_max_age_ms")
	}
	if cfg.CacheUpdateIntervalMs <= 0 {
		return errors.New("invalid cache_update_interval_ms")
	}
	if cfg.CachePrefetchMs < 0 || cfg.CachePrefetchMs >= cfg.CacheMaxAgeMs {
		return errors.New("cache_prefetch_ms must be shorter than cache_max_age_ms")
	}
	if cfg.CacheUpdateSize < 0 {
		return errors.New("invalid cache_update_size")
	}
	if cfg.CacheConcurrentRequests < 0 {
		return errors.New("invalid cache_concurrent_requests")
	}
	if cfg.BatchIntervalMs <= 0 {
		return errors.New("invalid batch_interval_ms")
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, "http") {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeMs) * time.Millisecond
}

func (c *Config) CacheUpdateInterval() time.Duration {
	return time.Duration(c.CacheUpdateIntervalMs) * time.Millisecond
}

func (c *Config) CachePrefetch() time.Duration {
	return time.Duration(c.CachePrefetchMs) * time.Millisecond
}

func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMs) * time.Millisecond
}
