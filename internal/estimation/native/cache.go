package native

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

// CacheConfig tunes the caching estimator.
type CacheConfig struct {
	// MaxAge is how long a fetched result stays fresh.
	MaxAge time.Duration
	// UpdateInterval is the period of the background refresh loop.
	UpdateInterval time.Duration
	// UpdateSize caps how many entries get refreshed per cycle. Zero means
	// no limit.
	UpdateSize int
	// PrefetchTime shortens MaxAge when the background loop decides which
	// entries are about to expire, so prices are renewed before callers can
	// observe a miss.
	PrefetchTime time.Duration
	// ConcurrentRequests bounds the parallelism of one refresh cycle. Zero
	// means unbounded.
	ConcurrentRequests int
	// BatchInterval is the period of the batching consumer. Only relevant
	// when a batch fetcher is configured.
	BatchInterval time.Duration
}

const (
	defaultMaxAge         = 30 * time.Second
	defaultUpdateInterval = time.Second
	defaultBatchInterval  = 200 * time.Millisecond
)

func (c CacheConfig) withDefaults() CacheConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = defaultUpdateInterval
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = defaultBatchInterval
	}
	return c
}

type cacheEntry struct {
	price float64
	err   error
	// updatedAt is when the result was fetched.
	updatedAt time.Time
	// requestedAt is when the entry was last asked for. The background task
	// refreshes recently requested entries first.
	requestedAt time.Time
}

// inner holds the shared cache state. The mutex is only ever held across map
// operations, never across a fetch.
type inner struct {
	mu       sync.Mutex
	cache    map[estimation.Token]cacheEntry
	highPrio map[estimation.Token]struct{}

	estimator Estimating
	batching  *batching
	maxAge    time.Duration
	logger    *zap.Logger
}

// CachingEstimator wraps a native price estimator with a TTL cache that keeps
// itself warm: a background task refreshes entries shortly before they
// expire, most recently requested first. The cache is unbounded; entries are
// never evicted, which only stays acceptable while the set of distinct
// tokens a deployment touches is bounded.
type CachingEstimator struct {
	inner  *inner
	cancel context.CancelFunc
}

// NewCachingEstimator starts the background refresh task and, when fetcher is
// not nil, routes cache misses through a request batcher instead of the
// wrapped estimator. Close releases the background work.
func NewCachingEstimator(estimator Estimating, fetcher BatchFetcher, cfg CacheConfig, logger *zap.Logger) *CachingEstimator {
	cfg = cfg.withDefaults()
	in := &inner{
		cache:     map[estimation.Token]cacheEntry{},
		highPrio:  map[estimation.Token]struct{}{},
		estimator: estimator,
		maxAge:    cfg.MaxAge,
		logger:    logger.Named("price_cache"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	if fetcher != nil {
		in.batching = newBatching(in, fetcher, cfg.BatchInterval, in.logger.Named("batching"))
		go in.batching.run(ctx)
	}
	go in.maintain(ctx, cfg)
	return &CachingEstimator{inner: in, cancel: cancel}
}

// Close stops the background refresh and batching tasks. The estimator must
// not be used afterwards.
func (c *CachingEstimator) Close() {
	c.cancel()
}

// EstimateNativePrice implements Estimating. Fresh cached results, including
// cached failures, are returned without touching the wrapped estimator.
func (c *CachingEstimator) EstimateNativePrice(ctx context.Context, token estimation.Token) (float64, error) {
	if entry, ok := c.inner.cachedFresh(token, time.Now()); ok {
		cacheAccesses.WithLabelValues("hit").Inc()
		return entry.price, entry.err
	}
	cacheAccesses.WithLabelValues("miss").Inc()
	return c.inner.fetchAndCache(ctx, token)
}

// GetCachedPrices returns the fresh successful prices the cache currently
// holds for tokens, without blocking on any fetch. Tokens the cache has never
// seen get a deliberately stale placeholder entry so the next background
// cycle fetches them; the placeholder itself is never returned.
func (c *CachingEstimator) GetCachedPrices(tokens []estimation.Token) map[estimation.Token]float64 {
	in := c.inner
	now := time.Now()
	prices := make(map[estimation.Token]float64, len(tokens))

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, token := range tokens {
		entry, ok := in.cache[token]
		if !ok {
			in.cache[token] = cacheEntry{
				updatedAt:   now.Add(-in.maxAge),
				requestedAt: now,
			}
			continue
		}
		entry.requestedAt = now
		in.cache[token] = entry
		if now.Sub(entry.updatedAt) < in.maxAge && entry.err == nil {
			prices[token] = entry.price
		}
	}
	cacheSize.Set(float64(len(in.cache)))
	return prices
}

// ReplaceHighPriority replaces the set of tokens the background task
// refreshes before all others.
func (c *CachingEstimator) ReplaceHighPriority(tokens []estimation.Token) {
	set := make(map[estimation.Token]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	c.inner.mu.Lock()
	defer c.inner.mu.Unlock()
	c.inner.highPrio = set
}

// cachedFresh returns the entry for token if it is fresh, bumping its
// requestedAt either way so the background task knows the token is wanted.
func (in *inner) cachedFresh(token estimation.Token, now time.Time) (cacheEntry, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	entry, ok := in.cache[token]
	if !ok {
		return cacheEntry{}, false
	}
	entry.requestedAt = now
	in.cache[token] = entry
	if now.Sub(entry.updatedAt) >= in.maxAge {
		return cacheEntry{}, false
	}
	return entry, true
}

// fetchAndCache resolves a cache miss. The result is returned to the caller
// even when the caching policy decides not to store it.
func (in *inner) fetchAndCache(ctx context.Context, token estimation.Token) (float64, error) {
	if in.batching != nil {
		entry, ok := in.batching.fetch(ctx, token)
		if !ok {
			// Not an upstream failure: the batch containing the token has
			// not completed yet. Deliberately transient and never cached.
			return 0, estimation.ProtocolInternalf("native price for %s not yet available", token)
		}
		return entry.price, entry.err
	}
	price, err := in.estimator.EstimateNativePrice(ctx, token)
	in.store(token, price, err, time.Now())
	return price, err
}

// store applies the caching policy: successes and stable negative facts are
// cached, transient failures leave any existing entry untouched so the next
// lookup retries.
func (in *inner) store(token estimation.Token, price float64, err error, now time.Time) {
	if err != nil {
		switch estimation.Classify(err) {
		case estimation.KindNoLiquidity, estimation.KindUnsupportedToken:
		case estimation.KindUnsupportedOrderType:
			in.logger.Warn("unexpected error kind for a native price",
				zap.String("token", token.String()),
				zap.Error(err),
			)
			return
		default:
			return
		}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	entry := in.cache[token]
	if entry.requestedAt.IsZero() {
		entry.requestedAt = now
	}
	entry.price = price
	entry.err = err
	entry.updatedAt = now
	in.cache[token] = entry
	cacheSize.Set(float64(len(in.cache)))
}

// maintain is the background refresh loop. It terminates when ctx is
// cancelled by Close.
func (in *inner) maintain(ctx context.Context, cfg CacheConfig) {
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			in.logger.Debug("background refresh stopped")
			return
		case <-ticker.C:
			in.updateOutdated(ctx, cfg)
		}
	}
}

// outdated returns the tokens the current cycle should refresh: entries
// within PrefetchTime of expiry, high priority first, then most recently
// requested, truncated to UpdateSize.
func (in *inner) outdated(now time.Time, cfg CacheConfig) []estimation.Token {
	effectiveMaxAge := in.maxAge - cfg.PrefetchTime
	type candidate struct {
		token        estimation.Token
		highPriority bool
		requestedAt  time.Time
	}

	in.mu.Lock()
	var stale []candidate
	for token, entry := range in.cache {
		if now.Sub(entry.updatedAt) < effectiveMaxAge {
			continue
		}
		_, prio := in.highPrio[token]
		stale = append(stale, candidate{token: token, highPriority: prio, requestedAt: entry.requestedAt})
	}
	in.mu.Unlock()

	outdatedEntries.Set(float64(len(stale)))
	sort.SliceStable(stale, func(i, j int) bool {
		if stale[i].highPriority != stale[j].highPriority {
			return stale[i].highPriority
		}
		return stale[i].requestedAt.After(stale[j].requestedAt)
	})
	if cfg.UpdateSize > 0 && len(stale) > cfg.UpdateSize {
		stale = stale[:cfg.UpdateSize]
	}

	tokens := make([]estimation.Token, len(stale))
	for i, c := range stale {
		tokens[i] = c.token
	}
	return tokens
}

func (in *inner) updateOutdated(ctx context.Context, cfg CacheConfig) {
	tokens := in.outdated(time.Now(), cfg)
	if len(tokens) == 0 {
		return
	}
	var g errgroup.Group
	if cfg.ConcurrentRequests > 0 {
		g.SetLimit(cfg.ConcurrentRequests)
	}
	for _, token := range tokens {
		g.Go(func() error {
			_, _ = in.fetchAndCache(ctx, token)
			backgroundUpdates.Inc()
			return nil
		})
	}
	_ = g.Wait()
	in.logger.Debug("refreshed outdated native prices", zap.Int("count", len(tokens)))
}
