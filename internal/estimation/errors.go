package estimation

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates every way a price estimation can fail. The numeric
// order is the recoverability ranking used when a competition has to surface
// exactly one error: higher kinds are more likely to succeed on retry and win
// against lower ones.
type ErrorKind int

const (
	KindUnsupportedOrderType ErrorKind = iota
	KindNoLiquidity
	KindUnsupportedToken
	KindEstimatorInternal
	KindProtocolInternal
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedOrderType:
		return "UnsupportedOrderType"
	case KindNoLiquidity:
		return "NoLiquidity"
	case KindUnsupportedToken:
		return "UnsupportedToken"
	case KindEstimatorInternal:
		return "EstimatorInternal"
	case KindProtocolInternal:
		return "ProtocolInternal"
	case KindRateLimited:
		return "RateLimited"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the only error type estimators report. It is a closed taxonomy:
// callers branch on Kind instead of comparing error values.
type Error struct {
	Kind ErrorKind
	// Token is set for KindUnsupportedToken.
	Token  Token
	Reason string
	// Inner carries the underlying cause for the internal kinds.
	Inner error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnsupportedOrderType:
		return fmt.Sprintf("unsupported order type: %s", e.Reason)
	case KindNoLiquidity:
		return "no liquidity"
	case KindUnsupportedToken:
		return fmt.Sprintf("token %s is not supported: %s", e.Token, e.Reason)
	case KindRateLimited:
		return "price estimators temporarily unavailable due to rate limiting"
	default:
		if e.Inner != nil {
			return e.Inner.Error()
		}
		return e.Reason
	}
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func UnsupportedOrderType(reason string) error {
	return &Error{Kind: KindUnsupportedOrderType, Reason: reason}
}

func NoLiquidity() error {
	return &Error{Kind: KindNoLiquidity}
}

func UnsupportedToken(token Token, reason string) error {
	return &Error{Kind: KindUnsupportedToken, Token: token, Reason: reason}
}

func EstimatorInternal(err error) error {
	return &Error{Kind: KindEstimatorInternal, Inner: err}
}

func ProtocolInternal(err error) error {
	return &Error{Kind: KindProtocolInternal, Inner: err}
}

func ProtocolInternalf(format string, args ...any) error {
	return &Error{Kind: KindProtocolInternal, Inner: fmt.Errorf(format, args...)}
}

func RateLimited() error {
	return &Error{Kind: KindRateLimited}
}

// Classify returns the kind of err. Errors produced outside the taxonomy are
// treated as estimator internal so foreign failures stay transient and are
// never cached as permanent facts.
func Classify(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEstimatorInternal
}

// CompareErrors orders two estimation errors by recoverability. The result is
// positive if a should be preferred over b when surfacing a single error.
func CompareErrors(a, b error) int {
	ka, kb := Classify(a), Classify(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

// IsTransient reports whether the failure may resolve by itself on retry.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindEstimatorInternal, KindProtocolInternal, KindRateLimited:
		return true
	default:
		return false
	}
}
