package accounting

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AssetCounters carries the per-asset in-flight bookkeeping used to
// reconcile exchange interactions against actual custody.
type AssetCounters struct {
	gorm.Model               `json:"-"`
	Asset                    string          `gorm:"uniqueIndex" json:"asset"`
	QuantitySentToExchange   decimal.Decimal `json:"quantity_sent_to_exchange"`
	QuantityExpectedToReturn decimal.Decimal `json:"quantity_expected_to_return"`
	PreviousHoldings         decimal.Decimal `json:"previous_holdings"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// MakeOrderMarker records the single outstanding make order allowed
// per asset pair.
type MakeOrderMarker struct {
	gorm.Model `json:"-"`
	PairKey    string    `gorm:"uniqueIndex" json:"pair_key"`
	SellAsset  string    `json:"sell_asset"`
	BuyAsset   string    `json:"buy_asset"`
	OrderID    string    `json:"order_id"`
	Open       bool      `json:"open"`
	UpdatedAt  time.Time `json:"updated_at"`
}
