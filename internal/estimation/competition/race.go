// Package competition fans price estimation requests out over competing
// sources arranged in stages and picks the best result. With an early-return
// threshold configured the competition becomes a race: later stages only run
// when the earlier ones cannot produce enough usable results, and in-flight
// requests are cancelled as soon as enough results arrived.
package competition

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Source is a named estimator taking part in the competition.
type Source[T any] struct {
	Name      string
	Estimator T
}

// Stage groups sources that are queried in parallel. Later stages are only
// queried when the earlier ones cannot satisfy the threshold on their own.
type Stage[T any] []Source[T]

// EstimatorIndex identifies one source within the configured stages.
type EstimatorIndex struct {
	Stage    int
	Position int
}

type result[R any] struct {
	index EstimatorIndex
	value R
	err   error
}

// racer is the generic dispatch core shared by the quote and native price
// competitions. T is the estimator type, Q the query and R the result value.
type racer[T, Q, R any] struct {
	stages    []Stage[T]
	threshold int
	fetch     func(ctx context.Context, estimator T, query Q) (R, error)
	usable    func(value R, err error) bool
	logger    *zap.Logger
}

func newRacer[T, Q, R any](
	stages []Stage[T],
	fetch func(ctx context.Context, estimator T, query Q) (R, error),
	usable func(value R, err error) bool,
	logger *zap.Logger,
) *racer[T, Q, R] {
	if len(stages) == 0 {
		panic("competition: no stages configured")
	}
	for _, stage := range stages {
		if len(stage) == 0 {
			panic("competition: empty stage configured")
		}
	}
	r := &racer[T, Q, R]{
		stages: stages,
		fetch:  fetch,
		usable: usable,
		logger: logger,
	}
	// Without an explicit early-return threshold every source always gets
	// queried and the race degenerates to a plain fan-out.
	r.threshold = r.totalSources()
	return r
}

func (r *racer[T, Q, R]) totalSources() int {
	total := 0
	for _, stage := range r.stages {
		total += len(stage)
	}
	return total
}

func (r *racer[T, Q, R]) name(index EstimatorIndex) string {
	return r.stages[index.Stage][index.Position].Name
}

// race queries the stages and returns every result collected up to the point
// the threshold of usable results was met. If the threshold is never met it
// returns everything that completed.
func (r *racer[T, Q, R]) race(ctx context.Context, query Q) []result[R] {
	start := time.Now()
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := r.totalSources()
	completions := make(chan result[R], total)
	launched := 0

	launchStage := func(stage int) {
		for position, source := range r.stages[stage] {
			index := EstimatorIndex{Stage: stage, Position: position}
			estimator := source.Estimator
			go func() {
				value, err := r.fetch(raceCtx, estimator, query)
				completions <- result[R]{index: index, value: value, err: err}
			}()
		}
		launched += len(r.stages[stage])
	}

	results := make([]result[R], 0, total)
	usable := 0

	stage := 0
	for stage < len(r.stages) {
		// Launch whole stages while the requests in this batch cannot
		// possibly satisfy the threshold on their own.
		inFlight := 0
		missing := r.threshold - usable
		for stage < len(r.stages) && inFlight < missing {
			inFlight += len(r.stages[stage])
			launchStage(stage)
			stage++
		}

		for ; inFlight > 0; inFlight-- {
			res := <-completions
			results = append(results, res)
			if r.usable(res.value, res.err) {
				usable++
			}
			r.logger.Debug("new price estimate",
				zap.String("estimator", r.name(res.index)),
				zap.Int("results", len(results)),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(res.err),
			)
			if usable >= r.threshold {
				cancel()
				r.reportRequests(launched)
				return results
			}
		}
	}
	r.reportRequests(launched)
	return results
}

func (r *racer[T, Q, R]) reportRequests(launched int) {
	requestsTotal.WithLabelValues("executed").Add(float64(launched))
	requestsTotal.WithLabelValues("saved").Add(float64(r.totalSources() - launched))
}

// maxBy returns the maximum result under cmp, resolving ties to the last
// maximal element encountered.
func maxBy[R any](results []result[R], cmp func(a, b result[R]) int) (result[R], bool) {
	if len(results) == 0 {
		var zero result[R]
		return zero, false
	}
	best := results[0]
	for _, candidate := range results[1:] {
		if cmp(candidate, best) >= 0 {
			best = candidate
		}
	}
	return best, true
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
