// Package ledger is the fund share ledger. Shares are created and
// annihilated only through paired balance/supply mutations inside a
// single transaction, which keeps total supply conserved across every
// state transition.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNonPositiveShares  = errors.New("share quantity must be positive")
)

// Ledger tracks holder share balances and total supply.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a share ledger, seeding the supply row if absent.
func NewLedger(db *gorm.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	var supply ShareSupply
	err := db.First(&supply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		supply = ShareSupply{Total: decimal.Zero}
		if err := db.Create(&supply).Error; err != nil {
			return nil, err
		}
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// WithTx returns a view of the ledger bound to an open transaction so
// share mutations commit atomically with the caller's state changes.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// BalanceOf returns the holder's share balance, zero for unknown
// holders.
func (l *Ledger) BalanceOf(holder string) (decimal.Decimal, error) {
	var row ShareBalance
	if err := l.db.Where("holder = ?", holder).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Amount, nil
}

// TotalSupply returns the outstanding share supply.
func (l *Ledger) TotalSupply() (decimal.Decimal, error) {
	var supply ShareSupply
	if err := l.db.First(&supply).Error; err != nil {
		return decimal.Zero, err
	}
	return supply.Total, nil
}

// CreateShares mints quantity shares to holder, growing total supply
// in the same transaction.
func (l *Ledger) CreateShares(holder string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrNonPositiveShares
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		var row ShareBalance
		err := tx.Where("holder = ?", holder).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = ShareBalance{Holder: holder, Amount: quantity}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			row.Amount = row.Amount.Add(quantity)
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return adjustSupply(tx, quantity)
	})
}

// AnnihilateShares burns quantity shares from holder, shrinking total
// supply in the same transaction.
func (l *Ledger) AnnihilateShares(holder string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrNonPositiveShares
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		var row ShareBalance
		if err := tx.Where("holder = ?", holder).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientShares
			}
			return err
		}
		if row.Amount.LessThan(quantity) {
			return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, holder, row.Amount, quantity)
		}
		row.Amount = row.Amount.Sub(quantity)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return adjustSupply(tx, quantity.Neg())
	})
}

// CheckConservation recomputes the balance sum and compares it to the
// supply row. It exists for tests and operational sanity checks.
func (l *Ledger) CheckConservation() error {
	var rows []ShareBalance
	if err := l.db.Find(&rows).Error; err != nil {
		return err
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	total, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if !sum.Equal(total) {
		return fmt.Errorf("share conservation violated: balances sum to %s, supply is %s", sum, total)
	}
	return nil
}

func adjustSupply(tx *gorm.DB, delta decimal.Decimal) error {
	var supply ShareSupply
	if err := tx.First(&supply).Error; err != nil {
		return err
	}
	supply.Total = supply.Total.Add(delta)
	if supply.Total.IsNegative() {
		return ErrInsufficientShares
	}
	return tx.Save(&supply).Error
}
