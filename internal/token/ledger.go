// Package token is the asset custody ledger: per-account balances and
// spend allowances with standard transfer/approve semantics. All value
// movement for subscriptions, redemptions and exchange orders routes
// through it.
package token

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
)

// Ledger tracks custody balances and allowances.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a custody ledger backed by the given database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a view of the ledger bound to an open transaction so
// callers can compose balance mutations with their own state changes
// in one atomic commit.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// BalanceOf returns the balance of account in asset; zero if the
// account has never held the asset.
func (l *Ledger) BalanceOf(account, asset string) (decimal.Decimal, error) {
	var row Balance
	if err := l.db.Where("account = ? AND asset = ?", account, asset).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Amount, nil
}

// Allowance returns the remaining approval from owner to spender.
func (l *Ledger) Allowance(owner, spender, asset string) (decimal.Decimal, error) {
	var row Allowance
	if err := l.db.Where("owner = ? AND spender = ? AND asset = ?", owner, spender, asset).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Amount, nil
}

// Mint credits amount of asset to account. Used by deployment seeding
// and the simulation faucet.
func (l *Ledger) Mint(account, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		return credit(tx, account, asset, amount)
	})
}

// Transfer moves amount of asset from one account to another
// atomically.
func (l *Ledger) Transfer(from, to, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, from, asset, amount); err != nil {
			return err
		}
		return credit(tx, to, asset, amount)
	})
}

// Approve sets (not adds to) the spender's allowance over the owner's
// asset.
func (l *Ledger) Approve(owner, spender, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNonPositiveAmount
	}
	var row Allowance
	err := l.db.Where("owner = ? AND spender = ? AND asset = ?", owner, spender, asset).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = Allowance{Owner: owner, Spender: spender, Asset: asset, Amount: amount}
		return l.db.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.Amount = amount
	return l.db.Save(&row).Error
}

// TransferFrom moves amount from owner to recipient on behalf of
// spender, consuming allowance.
func (l *Ledger) TransferFrom(spender, owner, to, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		var allowance Allowance
		if err := tx.Where("owner = ? AND spender = ? AND asset = ?", owner, spender, asset).First(&allowance).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientAllowance
			}
			return err
		}
		if allowance.Amount.LessThan(amount) {
			return ErrInsufficientAllowance
		}
		allowance.Amount = allowance.Amount.Sub(amount)
		if err := tx.Save(&allowance).Error; err != nil {
			return err
		}
		if err := debit(tx, owner, asset, amount); err != nil {
			return err
		}
		return credit(tx, to, asset, amount)
	})
}

func credit(tx *gorm.DB, account, asset string, amount decimal.Decimal) error {
	var row Balance
	err := tx.Where("account = ? AND asset = ?", account, asset).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = Balance{Account: account, Asset: asset, Amount: amount}
		return tx.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.Amount = row.Amount.Add(amount)
	return tx.Save(&row).Error
}

func debit(tx *gorm.DB, account, asset string, amount decimal.Decimal) error {
	var row Balance
	if err := tx.Where("account = ? AND asset = ?", account, asset).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s has no %s", ErrInsufficientBalance, account, asset)
		}
		return err
	}
	if row.Amount.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, account, row.Amount, asset, amount)
	}
	row.Amount = row.Amount.Sub(amount)
	return tx.Save(&row).Error
}
