package competition

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/estimation"
	"github.com/cowprotocol/services-sub002/internal/estimation/native"
)

// NativeEstimator races staged native price sources and returns the best
// price. Higher prices win so a single underpricing source cannot drag
// quotes down.
type NativeEstimator struct {
	racer *racer[native.Estimating, estimation.Token, float64]
}

type NativeOption func(*NativeEstimator)

// WithNativeEarlyReturn stops the competition as soon as n successful prices
// arrived instead of waiting for every source.
func WithNativeEarlyReturn(n int) NativeOption {
	return func(e *NativeEstimator) {
		if n <= 0 {
			panic("competition: early return threshold must be positive")
		}
		e.racer.threshold = n
	}
}

// NewNative builds a native price competition over stages. It panics when
// stages is empty or any stage contains no sources.
func NewNative(stages []Stage[native.Estimating], logger *zap.Logger, opts ...NativeOption) *NativeEstimator {
	e := &NativeEstimator{
		racer: newRacer(
			stages,
			fetchNativePrice,
			func(_ float64, err error) bool { return err == nil },
			logger.Named("native_competition"),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func fetchNativePrice(ctx context.Context, estimator native.Estimating, token estimation.Token) (float64, error) {
	price, err := estimator.EstimateNativePrice(ctx, token)
	if err == nil && native.IsPriceMalformed(price) {
		return 0, estimation.EstimatorInternal(fmt.Errorf("estimator returned malformed price: %v", price))
	}
	return price, err
}

// EstimateNativePrice implements native.Estimating.
func (e *NativeEstimator) EstimateNativePrice(ctx context.Context, token estimation.Token) (float64, error) {
	results := e.racer.race(ctx, token)
	winner, ok := maxBy(results, compareNative)
	if !ok {
		return 0, estimation.EstimatorInternal(errors.New("no native price source responded"))
	}
	if winner.err == nil {
		e.racer.logger.Debug("winning native price",
			zap.String("estimator", e.racer.name(winner.index)),
			zap.String("token", token.String()),
			zap.Float64("price", winner.value),
		)
		queriesWon.WithLabelValues(e.racer.name(winner.index), "native").Inc()
	}
	return winner.value, winner.err
}

func compareNative(a, b result[float64]) int {
	switch {
	case a.err == nil && b.err == nil:
		return cmpFloat(a.value, b.value)
	case a.err == nil:
		return 1
	case b.err == nil:
		return -1
	default:
		return estimation.CompareErrors(a.err, b.err)
	}
}
