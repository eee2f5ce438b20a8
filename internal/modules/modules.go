// Package modules declares the interfaces of the external collaborators
// the fund consumes: the price oracle, the compliance module, the risk
// module and the exchange adapter. The fund only ever reads from these;
// none of them is granted write access to fund state.
package modules

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies asset prices quoted in reference-asset base units
// per whole unit of the asset, plus the feed's update bookkeeping used
// by the two-phase request gate.
type PriceFeed interface {
	// Price returns the price of one whole unit (10^decimals base
	// units) of asset, denominated in reference-asset base units.
	Price(asset string) (decimal.Decimal, error)
	// Decimals returns the asset's base-unit exponent.
	Decimals(asset string) (int32, error)
	// ExistsPriceOnPair reports whether both legs of the pair carry
	// price data.
	ExistsPriceOnPair(sellAsset, buyAsset string) bool
	// IsRecent reports whether the asset's price is fresh enough to
	// act on.
	IsRecent(asset string) bool
	// OrderPriceInfo derives the implied order price and the feed's
	// reference price for a pair, both in buy-asset base units per
	// whole sell-asset unit.
	OrderPriceInfo(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (orderPrice, referencePrice decimal.Decimal, err error)

	LastUpdateID() (int64, error)
	LastUpdateTime() (time.Time, error)
	MinUpdateInterval() time.Duration
	// RegisteredAssets returns all registered assets in registration
	// order. Valuation iterates this order deterministically.
	RegisteredAssets() ([]string, error)
}

// Participation is the compliance module gating subscribe/redeem
// eligibility.
type Participation interface {
	IsSubscriptionPermitted(investor string, shareQuantity, offeredValue decimal.Decimal) bool
	IsRedemptionPermitted(investor string, shareQuantity, requestedValue decimal.Decimal) bool
}

// RiskManagement permits or rejects order placement given the implied
// order price versus the feed's reference price.
type RiskManagement interface {
	IsMakePermitted(orderPrice, referencePrice decimal.Decimal, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) bool
	IsTakePermitted(orderPrice, referencePrice decimal.Decimal, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) bool
}

// ExchangeAdapter translates fund-side order actions into
// protocol-specific exchange calls.
type ExchangeAdapter interface {
	// MakeOrder places a resting order selling sellQuantity of
	// sellAsset for buyQuantity of buyAsset, pulling the sell quantity
	// from the fund's custody via a prior approval. Returns the
	// exchange order id, or an empty id if the exchange rejected it.
	MakeOrder(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (string, error)
	// TakeOrder fills quantity of the sell leg of an existing exchange
	// order, pulling the proportional payment via a prior approval.
	TakeOrder(exchangeOrderID string, quantity decimal.Decimal) (bool, error)
	// CancelOrder cancels a resting order and returns the undebited
	// remainder to the fund.
	CancelOrder(exchangeOrderID string) (bool, error)
	// GetOrder fetches the current terms of an exchange order.
	GetOrder(exchangeOrderID string) (sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal, err error)
}

// Modules bundles the collaborator references resolved at fund
// construction time.
type Modules struct {
	Feed          PriceFeed
	Participation Participation
	Risk          RiskManagement
	Exchange      ExchangeAdapter
}
