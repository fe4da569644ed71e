package estimation

import "context"

// Estimator produces a price estimate for a single trade query. Failures must
// be reported as *Error values so callers can rank and classify them.
// Implementations have to be safe for concurrent use; the competition
// dispatcher invokes the same instance from many goroutines.
type Estimator interface {
	Estimate(ctx context.Context, query *Query) (Estimate, error)
}
