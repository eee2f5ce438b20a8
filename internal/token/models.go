package token

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Balance is the custody balance of one account in one asset, in the
// asset's base units.
type Balance struct {
	gorm.Model `json:"-"`
	Account    string          `gorm:"uniqueIndex:idx_account_asset" json:"account"`
	Asset      string          `gorm:"uniqueIndex:idx_account_asset" json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Allowance is a spend approval from owner to spender for one asset.
type Allowance struct {
	gorm.Model `json:"-"`
	Owner      string          `gorm:"uniqueIndex:idx_owner_spender_asset" json:"owner"`
	Spender    string          `gorm:"uniqueIndex:idx_owner_spender_asset" json:"spender"`
	Asset      string          `gorm:"uniqueIndex:idx_owner_spender_asset" json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
