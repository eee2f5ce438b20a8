package trading

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

// Order is one entry in the fund's order log. Make orders are
// appended open and updated in place as they fill or cancel; take
// orders are recorded already filled.
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string            `gorm:"uniqueIndex" json:"order_id"`
	ExchangeOrderID string            `gorm:"index" json:"exchange_order_id"`
	SellAsset       string            `json:"sell_asset"`
	BuyAsset        string            `json:"buy_asset"`
	SellQuantity    decimal.Decimal   `json:"sell_quantity"`
	BuyQuantity     decimal.Decimal   `json:"buy_quantity"`
	Status          types.OrderStatus `json:"status"`
	Type            types.OrderType   `json:"type"`
	FillQuantity    decimal.Decimal   `json:"fill_quantity"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// OrderResult carries the outcome of a make/take attempt: either an
// order or a numeric soft-failure code with state untouched.
type OrderResult struct {
	Order   *Order        `json:"order,omitempty"`
	ErrCode types.ErrCode `json:"err_code"`
	ErrName string        `json:"err_name,omitempty"`
}

// SettlementReport is the outcome of a manual settlement.
type SettlementReport struct {
	Embezzled       bool            `json:"embezzled"`
	Factor          decimal.Decimal `json:"factor"`
	RevisedExpected decimal.Decimal `json:"revised_expected"`
	ActualDebit     decimal.Decimal `json:"actual_debit"`
	OrderID         string          `json:"order_id,omitempty"`
}
