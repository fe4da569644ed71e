package native

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

type countingEstimator struct {
	mu    sync.Mutex
	calls map[estimation.Token]int
	fn    func(token estimation.Token) (float64, error)
}

func newCountingEstimator(fn func(token estimation.Token) (float64, error)) *countingEstimator {
	return &countingEstimator{calls: map[estimation.Token]int{}, fn: fn}
}

func constantPrice(price float64) func(estimation.Token) (float64, error) {
	return func(estimation.Token) (float64, error) {
		return price, nil
	}
}

func (e *countingEstimator) EstimateNativePrice(_ context.Context, token estimation.Token) (float64, error) {
	e.mu.Lock()
	e.calls[token]++
	e.mu.Unlock()
	return e.fn(token)
}

func (e *countingEstimator) count(token estimation.Token) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[token]
}

func (e *countingEstimator) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, count := range e.calls {
		total += count
	}
	return total
}

// idleConfig keeps the background loop effectively off so tests only exercise
// the blocking path.
func idleConfig(maxAge time.Duration) CacheConfig {
	return CacheConfig{MaxAge: maxAge, UpdateInterval: time.Hour}
}

func TestCacheServesRepeatedLookupsFromOneFetch(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cache := NewCachingEstimator(estimator, nil, idleConfig(200*time.Millisecond), zap.NewNop())
	defer cache.Close()

	for i := 0; i < 10; i++ {
		price, err := cache.EstimateNativePrice(context.Background(), "0xToken")
		require.NoError(t, err)
		assert.Equal(t, 4.2, price)
	}
	assert.Equal(t, 1, estimator.total())
}

func TestCacheExpiresAfterMaxAge(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cache := NewCachingEstimator(estimator, nil, idleConfig(25*time.Millisecond), zap.NewNop())
	defer cache.Close()

	_, err := cache.EstimateNativePrice(context.Background(), "0xToken")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = cache.EstimateNativePrice(context.Background(), "0xToken")
	require.NoError(t, err)

	assert.Equal(t, 2, estimator.total())
}

func TestCachePolicyKeepsStableFactsOnly(t *testing.T) {
	estimator := newCountingEstimator(func(token estimation.Token) (float64, error) {
		switch token {
		case "0xDead":
			return 0, estimation.NoLiquidity()
		case "0xBusy":
			return 0, estimation.RateLimited()
		default:
			return 4.2, nil
		}
	})
	cache := NewCachingEstimator(estimator, nil, idleConfig(time.Minute), zap.NewNop())
	defer cache.Close()

	// Stable negative facts are cached like successes.
	for i := 0; i < 2; i++ {
		_, err := cache.EstimateNativePrice(context.Background(), "0xDead")
		require.Error(t, err)
		assert.Equal(t, estimation.KindNoLiquidity, estimation.Classify(err))
	}
	assert.Equal(t, 1, estimator.count("0xDead"))

	// Transient failures are retried on every lookup.
	for i := 0; i < 2; i++ {
		_, err := cache.EstimateNativePrice(context.Background(), "0xBusy")
		require.Error(t, err)
		assert.Equal(t, estimation.KindRateLimited, estimation.Classify(err))
	}
	assert.Equal(t, 2, estimator.count("0xBusy"))
}

func TestGetCachedPricesNeverBlocks(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cfg := CacheConfig{MaxAge: time.Minute, UpdateInterval: 10 * time.Millisecond}
	cache := NewCachingEstimator(estimator, nil, cfg, zap.NewNop())
	defer cache.Close()

	// Unknown tokens are not fetched inline, only marked for the background
	// task via a placeholder that is itself never returned.
	prices := cache.GetCachedPrices([]estimation.Token{"0xToken"})
	assert.Empty(t, prices)
	assert.Zero(t, estimator.total())

	require.Eventually(t, func() bool {
		return estimator.total() >= 1
	}, time.Second, 5*time.Millisecond, "the placeholder should get picked up by the next refresh cycle")

	require.Eventually(t, func() bool {
		prices = cache.GetCachedPrices([]estimation.Token{"0xToken"})
		return len(prices) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.2, prices["0xToken"])
}

func TestRefreshOrderPrefersPriorityThenRecency(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cfg := idleConfig(100 * time.Millisecond)
	cache := NewCachingEstimator(estimator, nil, cfg, zap.NewNop())
	defer cache.Close()

	in := cache.inner
	now := time.Now()
	stale := now.Add(-200 * time.Millisecond)
	in.mu.Lock()
	in.cache["0xOld"] = cacheEntry{updatedAt: stale, requestedAt: now.Add(-30 * time.Second)}
	in.cache["0xHot"] = cacheEntry{updatedAt: stale, requestedAt: now.Add(-10 * time.Second)}
	in.cache["0xVIP"] = cacheEntry{updatedAt: stale, requestedAt: now.Add(-20 * time.Second)}
	in.cache["0xFresh"] = cacheEntry{updatedAt: now, requestedAt: now}
	in.mu.Unlock()
	cache.ReplaceHighPriority([]estimation.Token{"0xVIP"})

	tokens := in.outdated(now, cfg.withDefaults())
	assert.Equal(t, []estimation.Token{"0xVIP", "0xHot", "0xOld"}, tokens)
}

func TestRefreshTruncatesToUpdateSize(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cfg := idleConfig(100 * time.Millisecond)
	cfg.UpdateSize = 1
	cache := NewCachingEstimator(estimator, nil, cfg, zap.NewNop())
	defer cache.Close()

	in := cache.inner
	now := time.Now()
	stale := now.Add(-200 * time.Millisecond)
	in.mu.Lock()
	in.cache["0xOld"] = cacheEntry{updatedAt: stale, requestedAt: now.Add(-30 * time.Second)}
	in.cache["0xHot"] = cacheEntry{updatedAt: stale, requestedAt: now.Add(-10 * time.Second)}
	in.mu.Unlock()

	tokens := in.outdated(now, cfg.withDefaults())
	assert.Equal(t, []estimation.Token{"0xHot"}, tokens)
}

func TestPrefetchRefreshesBeforeExpiry(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cfg := idleConfig(100 * time.Millisecond)
	cfg.PrefetchTime = 60 * time.Millisecond
	cache := NewCachingEstimator(estimator, nil, cfg, zap.NewNop())
	defer cache.Close()

	in := cache.inner
	now := time.Now()
	in.mu.Lock()
	// Still fresh for callers but within the prefetch window.
	in.cache["0xToken"] = cacheEntry{updatedAt: now.Add(-50 * time.Millisecond), requestedAt: now}
	in.mu.Unlock()

	tokens := in.outdated(now, cfg.withDefaults())
	assert.Equal(t, []estimation.Token{"0xToken"}, tokens)
}

func TestCloseStopsBackgroundRefresh(t *testing.T) {
	estimator := newCountingEstimator(constantPrice(4.2))
	cfg := CacheConfig{MaxAge: 5 * time.Millisecond, UpdateInterval: 5 * time.Millisecond}
	cache := NewCachingEstimator(estimator, nil, cfg, zap.NewNop())

	_, err := cache.EstimateNativePrice(context.Background(), "0xToken")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return estimator.total() >= 2
	}, time.Second, time.Millisecond, "the background task should refresh the stale entry")

	cache.Close()
	time.Sleep(20 * time.Millisecond)
	fetched := estimator.total()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetched, estimator.total(), "no refreshes may happen after Close")
}
