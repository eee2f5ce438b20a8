package types

import (
	"github.com/shopspring/decimal"
)

// RequestType identifies the direction of a queued investor request.
type RequestType string

const (
	RequestTypeSubscribe RequestType = "SUBSCRIBE"
	RequestTypeRedeem    RequestType = "REDEEM"
)

// RequestStatus is the lifecycle state of a queued request.
// A request transitions exactly once: OPEN -> EXECUTED or OPEN -> CANCELLED.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "OPEN"
	RequestStatusExecuted  RequestStatus = "EXECUTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// OrderType distinguishes maker orders resting on an exchange from
// immediate takes of existing orders.
type OrderType string

const (
	OrderTypeMake OrderType = "MAKE"
	OrderTypeTake OrderType = "TAKE"
)

// OrderStatus is the fill state of an exchange order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFullyFilled     OrderStatus = "FULLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

var (
	// BaseUnits is one whole share (and one whole reference-asset unit):
	// 10^18 base units. Share prices and per-share values are quoted
	// against this scale.
	BaseUnits = decimal.New(1, 18)

	// DivisorFee is the fixed-point divisor applied to reward rates.
	DivisorFee = decimal.New(1, 15)
)

// MulDiv computes a*b/c with the division truncated toward zero, the
// rounding direction used throughout fund valuation. All quantities in
// this codebase are non-negative, so truncation and floor coincide.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// PairKey builds the canonical key for an (sell, buy) asset pair.
func PairKey(sellAsset, buyAsset string) string {
	return sellAsset + "/" + buyAsset
}
