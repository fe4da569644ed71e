package competition

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/cowprotocol/services-sub002/internal/estimation"
	"github.com/cowprotocol/services-sub002/internal/estimation/native"
	"github.com/cowprotocol/services-sub002/internal/gasprice"
)

// Ranking decides which estimate wins the competition by providing the
// context the comparison math runs on.
type Ranking interface {
	provideContext(ctx context.Context, outToken estimation.Token) (rankingContext, error)
}

// MaxOutAmount picks the best quoted amount regardless of how complex the
// underlying trade route is.
type MaxOutAmount struct{}

func (MaxOutAmount) provideContext(context.Context, estimation.Token) (rankingContext, error) {
	return rankingContext{nativePrice: 1, gasPrice: 0}, nil
}

// BestBangForBuck picks the estimate with the best out amount net of the gas
// needed to settle it, so a complex route quoting marginally more output
// loses against a simple one.
type BestBangForBuck struct {
	Native native.Estimating
	Gas    gasprice.Estimating
}

func (r BestBangForBuck) provideContext(ctx context.Context, outToken estimation.Token) (rankingContext, error) {
	var rc rankingContext
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		price, err := r.Native.EstimateNativePrice(ctx, outToken)
		if err != nil {
			return err
		}
		rc.nativePrice = price
		return nil
	})
	g.Go(func() error {
		price, err := r.Gas.Estimate(ctx)
		if err != nil {
			return estimation.ProtocolInternal(err)
		}
		rc.gasPrice = price.EffectiveGasPrice()
		return nil
	})
	if err := g.Wait(); err != nil {
		return rankingContext{}, err
	}
	return rc, nil
}

type rankingContext struct {
	// nativePrice is the out token's price in the native asset.
	nativePrice float64
	// gasPrice is the effective price per gas unit in the native asset.
	gasPrice float64
}

// effectiveNativeOut is the value the trader effectively receives (sell) or
// pays (buy), denominated in the native asset and adjusted for settlement
// gas. Values that over- or underflow the math clamp to zero so broken
// estimates cannot win on a NaN comparison.
func (c rankingContext) effectiveNativeOut(est estimation.Estimate, kind estimation.OrderKind) float64 {
	out := 0.0
	if est.OutAmount != nil {
		out = est.OutAmount.Float64()
	}
	value := out * c.nativePrice
	fees := float64(est.Gas) * c.gasPrice
	if kind == estimation.OrderKindSell {
		// High fees mean receiving less buy token for the sell order.
		value -= fees
	} else {
		// High fees mean paying more sell token for the buy order.
		value += fees
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}
