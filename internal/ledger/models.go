package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ShareBalance is one holder's share position in base units.
type ShareBalance struct {
	gorm.Model `json:"-"`
	Holder     string          `gorm:"uniqueIndex" json:"holder"`
	Amount     decimal.Decimal `json:"amount"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ShareSupply is the single-row total share supply. It is mutated in
// the same transaction as any balance change so that
// sum(balances) == total holds after every transition.
type ShareSupply struct {
	gorm.Model `json:"-"`
	Total      decimal.Decimal `json:"total"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
