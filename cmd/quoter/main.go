package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/config"
	"github.com/cowprotocol/services-sub002/internal/estimation"
	"github.com/cowprotocol/services-sub002/internal/estimation/competition"
	"github.com/cowprotocol/services-sub002/internal/estimation/native"
	"github.com/cowprotocol/services-sub002/internal/estimation/sources"
	"github.com/cowprotocol/services-sub002/internal/logger"
)

const requestTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Development: cfg.Development,
		LogFile:     cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	estimator := buildEstimator(cfg, log)
	cache := native.NewCachingEstimator(estimator, nil, native.CacheConfig{
		MaxAge:             cfg.CacheMaxAge(),
		UpdateInterval:     cfg.CacheUpdateInterval(),
		UpdateSize:         cfg.CacheUpdateSize,
		PrefetchTime:       cfg.CachePrefetch(),
		ConcurrentRequests: cfg.CacheConcurrentRequests,
	}, log)
	defer cache.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: buildRouter(cache, cfg.Development),
	}
	go func() {
		log.Info("quoter listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}

// buildEstimator groups the configured sources into stages and wraps them in
// the native price competition.
func buildEstimator(cfg *config.Config, log *zap.Logger) native.Estimating {
	byStage := map[int]competition.Stage[native.Estimating]{}
	for _, source := range cfg.Sources {
		byStage[source.Stage] = append(byStage[source.Stage], competition.Source[native.Estimating]{
			Name:      source.Name,
			Estimator: sources.NewHTTPSource(source.Name, source.URL, uint(cfg.SourceRetries), log),
		})
	}
	numbers := make([]int, 0, len(byStage))
	for number := range byStage {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)

	stages := make([]competition.Stage[native.Estimating], 0, len(byStage))
	for _, number := range numbers {
		stages = append(stages, byStage[number])
	}

	var opts []competition.NativeOption
	if cfg.EarlyReturnThreshold > 0 {
		opts = append(opts, competition.WithNativeEarlyReturn(cfg.EarlyReturnThreshold))
	}
	return competition.NewNative(stages, log, opts...)
}

func buildRouter(cache *native.CachingEstimator, development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/v1/price/native/:token", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		token := estimation.Token(c.Param("token"))
		price, err := cache.EstimateNativePrice(ctx, token)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "price": price})
	})
	return router
}

func statusFor(err error) int {
	switch estimation.Classify(err) {
	case estimation.KindNoLiquidity, estimation.KindUnsupportedToken:
		return http.StatusNotFound
	case estimation.KindUnsupportedOrderType:
		return http.StatusBadRequest
	case estimation.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
