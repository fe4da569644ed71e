// Package estimation defines the shared data model for price estimation:
// queries, estimates, the estimator capability and the closed error taxonomy
// every estimator reports failures with.
package estimation

import (
	"github.com/holiman/uint256"
)

// Token identifies an ERC-20 token by its hex address.
type Token string

func (t Token) String() string {
	return string(t)
}

// OrderKind is the direction of a trade.
type OrderKind string

const (
	// OrderKindBuy fixes the buy amount; the sell amount is estimated.
	OrderKindBuy OrderKind = "buy"
	// OrderKindSell fixes the sell amount; the buy amount is estimated.
	OrderKindSell OrderKind = "sell"
)

// Label returns the metric label value for the order kind.
func (k OrderKind) Label() string {
	return string(k)
}

// Verification describes the trade setup under which an estimate has to hold
// for it to count as verified. It is carried opaquely to the sources.
type Verification struct {
	// From is the address the trade would be executed for.
	From string
	// Receiver is the address the bought tokens would be sent to.
	Receiver string
}

// Query is a single price estimation request. Queries are treated as
// immutable once handed to an estimator.
type Query struct {
	SellToken Token
	BuyToken  Token
	// InAmount is the fixed side of the trade: the sell amount for sell
	// orders and the buy amount for buy orders. Must be non-zero.
	InAmount *uint256.Int
	Kind     OrderKind
	// Verification, when set, asks sources to verify their estimates by
	// simulating the trade under these conditions.
	Verification *Verification
}

// OutToken returns the token the estimated amount is denominated in: the
// sell token for buy orders and the buy token for sell orders.
func (q *Query) OutToken() Token {
	if q.Kind == OrderKindBuy {
		return q.SellToken
	}
	return q.BuyToken
}

// Estimate is a price estimate for a trade.
type Estimate struct {
	// OutAmount is the estimated amount of the non-fixed side of the trade.
	OutAmount *uint256.Int
	// Gas is the estimated gas needed to settle the trade.
	Gas uint64
	// Solver names the source that produced the estimate.
	Solver string
	// Verified reports whether the estimate survived a simulation of the
	// trade under the query's verification conditions.
	Verified bool
}

// Amounts returns the (sell, buy) amounts this estimate quotes for the query.
func (e Estimate) Amounts(q *Query) (sell, buy *uint256.Int) {
	if q.Kind == OrderKindBuy {
		return e.OutAmount, q.InAmount
	}
	return q.InAmount, e.OutAmount
}
