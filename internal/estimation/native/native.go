// Package native estimates token prices denominated in the chain's native
// asset and caches them for the hot quoting path.
package native

import (
	"context"
	"math"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

// Estimating estimates how much native asset one atom of a token is worth.
type Estimating interface {
	EstimateNativePrice(ctx context.Context, token estimation.Token) (float64, error)
}

// BatchFetcher fetches native prices for many tokens in a single upstream
// request.
type BatchFetcher interface {
	// MaxBatchSize returns how many tokens fit into one fetch.
	MaxBatchSize() int
	// FetchNativePrices returns a price for every token the upstream could
	// quote. Tokens missing from the result were not priced; that is not an
	// error for the remaining tokens.
	FetchNativePrices(ctx context.Context, tokens []estimation.Token) (map[estimation.Token]float64, error)
}

// smallest positive normal float64
const minNormalFloat64 = 0x1p-1022

// IsPriceMalformed reports whether price cannot be a legitimate exchange
// rate: non-finite, non-positive or subnormal values all indicate a broken
// upstream rather than a market condition.
func IsPriceMalformed(price float64) bool {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return true
	}
	return price < minNormalFloat64
}
