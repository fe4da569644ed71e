package competition

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

// VerificationMode controls how the winner selection treats the Verified
// flag on estimates.
type VerificationMode int

const (
	// Unverified ranks estimates purely by price.
	Unverified VerificationMode = iota
	// PreferVerified ranks any verified estimate above any unverified one,
	// even at a worse price. Unverified estimates can still win when no
	// verified one exists.
	PreferVerified
)

// Estimator runs a price competition between staged quote sources and returns
// the best result under the configured ranking. Without WithEarlyReturn every
// source is always queried; with it the competition races and stops as soon
// as enough usable estimates arrived.
type Estimator struct {
	racer        *racer[estimation.Estimator, *estimation.Query, estimation.Estimate]
	ranking      Ranking
	verification VerificationMode
}

type Option func(*Estimator)

// WithEarlyReturn stops the competition as soon as n usable estimates
// arrived instead of waiting for every source.
func WithEarlyReturn(n int) Option {
	return func(e *Estimator) {
		if n <= 0 {
			panic("competition: early return threshold must be positive")
		}
		e.racer.threshold = n
	}
}

func WithVerificationMode(mode VerificationMode) Option {
	return func(e *Estimator) {
		e.verification = mode
	}
}

// New builds a quote competition over stages. It panics when stages is empty
// or any stage contains no sources.
func New(stages []Stage[estimation.Estimator], ranking Ranking, logger *zap.Logger, opts ...Option) *Estimator {
	e := &Estimator{
		ranking: ranking,
		racer: newRacer(
			stages,
			func(ctx context.Context, estimator estimation.Estimator, query *estimation.Query) (estimation.Estimate, error) {
				return estimator.Estimate(ctx, query)
			},
			usableQuote,
			logger.Named("competition"),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Zero gas estimates are obviously wrong and would dominate the ranking,
// leading to unreasonably low quoted fees.
func usableQuote(est estimation.Estimate, err error) bool {
	return err == nil && est.Gas > 0
}

// Estimate implements estimation.Estimator.
func (e *Estimator) Estimate(ctx context.Context, query *estimation.Query) (estimation.Estimate, error) {
	// Resolve the ranking context concurrently with the race so its latency
	// never adds to the slowest source's.
	type contextResult struct {
		rc  rankingContext
		err error
	}
	contexts := make(chan contextResult, 1)
	go func() {
		rc, err := e.ranking.provideContext(ctx, query.OutToken())
		contexts <- contextResult{rc: rc, err: err}
	}()

	results := e.racer.race(ctx, query)

	rc := <-contexts
	if rc.err != nil {
		return estimation.Estimate{}, rc.err
	}

	// Errors stay in so the most sensible one can be surfaced when nothing
	// usable arrived; successful but unusable estimates get dropped.
	candidates := results[:0]
	for _, res := range results {
		if res.err != nil || usableQuote(res.value, res.err) {
			candidates = append(candidates, res)
		}
	}

	winner, ok := maxBy(candidates, e.compare(query, rc.rc))
	if !ok {
		return estimation.Estimate{}, estimation.EstimatorInternal(
			errors.New("all price estimates reported a zero gas cost"))
	}
	if winner.err == nil {
		e.racer.logger.Debug("winning price estimate",
			zap.String("estimator", e.racer.name(winner.index)),
			zap.String("solver", winner.value.Solver),
		)
		queriesWon.WithLabelValues(e.racer.name(winner.index), query.Kind.Label()).Inc()
	}
	return winner.value, winner.err
}

// compare orders two race results: any estimate beats any error, verified
// estimates beat unverified ones when the mode asks for it, estimates compare
// by effective value and errors by recoverability.
func (e *Estimator) compare(query *estimation.Query, rc rankingContext) func(a, b result[estimation.Estimate]) int {
	preferVerified := e.verification != Unverified
	return func(a, b result[estimation.Estimate]) int {
		switch {
		case a.err == nil && b.err == nil:
			if preferVerified && a.value.Verified != b.value.Verified {
				if a.value.Verified {
					return 1
				}
				return -1
			}
			return compareQuote(query, a.value, b.value, rc)
		case a.err == nil:
			return 1
		case b.err == nil:
			return -1
		default:
			return estimation.CompareErrors(a.err, b.err)
		}
	}
}

func compareQuote(query *estimation.Query, a, b estimation.Estimate, rc rankingContext) int {
	c := cmpFloat(
		rc.effectiveNativeOut(a, query.Kind),
		rc.effectiveNativeOut(b, query.Kind),
	)
	if query.Kind == estimation.OrderKindBuy {
		// Buy orders estimate what has to be paid, so less is better.
		return -c
	}
	return c
}
