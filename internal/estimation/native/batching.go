package native

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

// blockingPollAttempts is how many cache polls a blocking caller gets before
// its price is reported as not yet available.
const blockingPollAttempts = 3

// batching coalesces single-token cache misses into periodic bulk fetches.
// Producers enqueue tokens and poll the cache; one consumer wakes every
// period, drains up to MaxBatchSize pending tokens and stores the fetched
// prices directly into the cache.
type batching struct {
	cache   *inner
	fetcher BatchFetcher
	period  time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	queued  map[estimation.Token]struct{}
	pending []estimation.Token
}

func newBatching(cache *inner, fetcher BatchFetcher, period time.Duration, logger *zap.Logger) *batching {
	return &batching{
		cache:   cache,
		fetcher: fetcher,
		period:  period,
		logger:  logger,
		queued:  map[estimation.Token]struct{}{},
	}
}

// run is the consumer loop. It terminates when ctx is cancelled.
func (b *batching) run(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// fetch enqueues token and polls the cache until its price shows up. The
// boolean reports whether a fresh entry became available within the poll
// budget; absence is not an upstream error.
func (b *batching) fetch(ctx context.Context, token estimation.Token) (cacheEntry, bool) {
	b.enqueue(token)
	for attempt := 0; attempt < blockingPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return cacheEntry{}, false
		case <-time.After(b.period):
		}
		if entry, ok := b.cache.cachedFresh(token, time.Now()); ok {
			return entry, true
		}
	}
	return cacheEntry{}, false
}

func (b *batching) enqueue(token estimation.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queued[token]; ok {
		return
	}
	b.queued[token] = struct{}{}
	b.pending = append(b.pending, token)
}

// drain removes up to max tokens from the queue in arrival order.
func (b *batching) drain(max int) []estimation.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(max, len(b.pending))
	if n <= 0 {
		return nil
	}
	batch := append([]estimation.Token(nil), b.pending[:n]...)
	b.pending = b.pending[n:]
	for _, token := range batch {
		delete(b.queued, token)
	}
	return batch
}

func (b *batching) flush(ctx context.Context) {
	batch := b.drain(b.fetcher.MaxBatchSize())
	if len(batch) == 0 {
		return
	}
	prices, err := b.fetcher.FetchNativePrices(ctx, batch)
	if err != nil {
		// Leave the cache untouched; blocked callers time out with a
		// transient error and retry on their next lookup.
		batchFetches.WithLabelValues("error").Inc()
		b.logger.Warn("native price batch fetch failed",
			zap.Int("tokens", len(batch)),
			zap.Error(err),
		)
		return
	}
	batchFetches.WithLabelValues("success").Inc()
	now := time.Now()
	for token, price := range prices {
		b.cache.store(token, price, nil, now)
	}
}
