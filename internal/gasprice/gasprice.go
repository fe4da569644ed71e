// Package gasprice exposes the current gas price to components that need to
// translate gas amounts into settlement cost.
package gasprice

import (
	"context"
	"sync"
)

// GasPrice1559 is an EIP-1559 gas price estimate in wei.
type GasPrice1559 struct {
	BaseFeePerGas        float64
	MaxFeePerGas         float64
	MaxPriorityFeePerGas float64
}

// EffectiveGasPrice returns the price per gas unit a transaction with this
// estimate ends up paying under the current base fee.
func (g GasPrice1559) EffectiveGasPrice() float64 {
	return min(g.MaxFeePerGas, g.BaseFeePerGas+g.MaxPriorityFeePerGas)
}

// Estimating supplies the current gas price.
type Estimating interface {
	Estimate(ctx context.Context) (GasPrice1559, error)
}

// Fixed always returns the same gas price. It backs deployments where quoting
// accuracy does not warrant a live fee oracle, and tests.
type Fixed struct {
	mu    sync.RWMutex
	price GasPrice1559
}

func NewFixed(price GasPrice1559) *Fixed {
	return &Fixed{price: price}
}

func (f *Fixed) Estimate(context.Context) (GasPrice1559, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, nil
}

// Set replaces the returned gas price.
func (f *Fixed) Set(price GasPrice1559) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}
