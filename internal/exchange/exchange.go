// Package exchange is a mock exchange sitting behind the
// modules.ExchangeAdapter interface. Unlike a stub it moves real
// custody balances through the token ledger, so settlement
// reconciliation sees the same holdings drift a live venue would
// cause. Misbehavior knobs let tests play a dishonest counterparty.
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/types"
)

// EscrowAccount is the token-ledger account holding assets resting on
// the exchange.
const EscrowAccount = "EXCHANGE"

var (
	ErrOrderNotFound = errors.New("exchange order not found")
	ErrOrderClosed   = errors.New("exchange order not open")
)

// Order is a resting order on the mock exchange.
type Order struct {
	gorm.Model      `json:"-"`
	ExchangeOrderID string          `gorm:"uniqueIndex" json:"exchange_order_id"`
	Maker           string          `json:"maker"`
	SellAsset       string          `json:"sell_asset"`
	BuyAsset        string          `json:"buy_asset"`
	SellQuantity    decimal.Decimal `json:"sell_quantity"`
	BuyQuantity     decimal.Decimal `json:"buy_quantity"`
	RemainingSell   decimal.Decimal `json:"remaining_sell"`
	Status          string          `json:"status"` // OPEN, FILLED, CANCELLED
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Adapter is the fund-facing exchange adapter.
type Adapter struct {
	db      *gorm.DB
	tokens  *token.Ledger
	account string // the fund custody account the adapter acts for

	// RejectMakes makes MakeOrder return an empty order id, simulating
	// an exchange-side rejection.
	RejectMakes bool
}

// NewAdapter returns an adapter placing orders on behalf of the given
// fund custody account.
func NewAdapter(db *gorm.DB, tokens *token.Ledger, fundAccount string) *Adapter {
	return &Adapter{db: db, tokens: tokens, account: fundAccount}
}

// MakeOrder escrows the sell quantity from the fund (via its prior
// approval) and books a resting order.
func (a *Adapter) MakeOrder(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (string, error) {
	if a.RejectMakes {
		log.Warn().Str("pair", types.PairKey(sellAsset, buyAsset)).Msg("exchange rejected make order")
		return "", nil
	}
	if err := a.tokens.TransferFrom(EscrowAccount, a.account, EscrowAccount, sellAsset, sellQuantity); err != nil {
		return "", fmt.Errorf("escrow pull failed: %w", err)
	}
	order := Order{
		ExchangeOrderID: "XORD_" + uuid.New().String(),
		Maker:           a.account,
		SellAsset:       sellAsset,
		BuyAsset:        buyAsset,
		SellQuantity:    sellQuantity,
		BuyQuantity:     buyQuantity,
		RemainingSell:   sellQuantity,
		Status:          "OPEN",
		CreatedAt:       time.Now(),
	}
	if err := a.db.Create(&order).Error; err != nil {
		return "", err
	}
	log.Info().
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("pair", types.PairKey(sellAsset, buyAsset)).
		Str("sell_quantity", sellQuantity.String()).
		Msg("make order resting on exchange")
	return order.ExchangeOrderID, nil
}

// TakeOrder fills quantity of an order's sell leg for the fund: the
// fund's payment is pulled via its approval and the bought quantity is
// released from escrow.
func (a *Adapter) TakeOrder(exchangeOrderID string, quantity decimal.Decimal) (bool, error) {
	order, err := a.get(exchangeOrderID)
	if err != nil {
		return false, err
	}
	if order.Status != "OPEN" || order.RemainingSell.LessThan(quantity) {
		return false, nil
	}
	payment := types.MulDiv(order.BuyQuantity, quantity, order.SellQuantity)
	if err := a.tokens.TransferFrom(EscrowAccount, a.account, order.Maker, order.BuyAsset, payment); err != nil {
		log.Warn().Err(err).Str("exchange_order_id", exchangeOrderID).Msg("take payment pull failed")
		return false, nil
	}
	if err := a.tokens.Transfer(EscrowAccount, a.account, order.SellAsset, quantity); err != nil {
		return false, err
	}
	order.RemainingSell = order.RemainingSell.Sub(quantity)
	if order.RemainingSell.IsZero() {
		order.Status = "FILLED"
	}
	order.UpdatedAt = time.Now()
	return true, a.db.Save(order).Error
}

// CancelOrder returns the undebited remainder to the maker and closes
// the order.
func (a *Adapter) CancelOrder(exchangeOrderID string) (bool, error) {
	order, err := a.get(exchangeOrderID)
	if err != nil {
		return false, err
	}
	if order.Status != "OPEN" {
		return false, nil
	}
	if order.RemainingSell.IsPositive() {
		if err := a.tokens.Transfer(EscrowAccount, order.Maker, order.SellAsset, order.RemainingSell); err != nil {
			return false, err
		}
	}
	order.RemainingSell = decimal.Zero
	order.Status = "CANCELLED"
	order.UpdatedAt = time.Now()
	return true, a.db.Save(order).Error
}

// GetOrder returns the order's remaining terms: the still-available
// sell quantity and the buy quantity owed for it.
func (a *Adapter) GetOrder(exchangeOrderID string) (string, string, decimal.Decimal, decimal.Decimal, error) {
	order, err := a.get(exchangeOrderID)
	if err != nil {
		return "", "", decimal.Zero, decimal.Zero, err
	}
	remainingBuy := types.MulDiv(order.BuyQuantity, order.RemainingSell, order.SellQuantity)
	return order.SellAsset, order.BuyAsset, order.RemainingSell, remainingBuy, nil
}

// SeedOrder books a counterparty order with its sell quantity already
// escrowed, for simulations and tests.
func (a *Adapter) SeedOrder(maker, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (string, error) {
	if err := a.tokens.Mint(EscrowAccount, sellAsset, sellQuantity); err != nil {
		return "", err
	}
	order := Order{
		ExchangeOrderID: "XORD_" + uuid.New().String(),
		Maker:           maker,
		SellAsset:       sellAsset,
		BuyAsset:        buyAsset,
		SellQuantity:    sellQuantity,
		BuyQuantity:     buyQuantity,
		RemainingSell:   sellQuantity,
		Status:          "OPEN",
		CreatedAt:       time.Now(),
	}
	return order.ExchangeOrderID, a.db.Create(&order).Error
}

// FillMakeOrder plays the counterparty on one of the fund's resting
// make orders: fillQuantity of the escrowed sell leg is taken and
// deliverQuantity of the buy asset is delivered to the fund. An honest
// counterparty delivers buyQuantity*fill/sell; delivering less
// simulates the diversion settlement reconciliation must catch. When
// returnRemainder is set the unfilled sell remainder goes back to fund
// custody, as after an exchange-side cancel of the rest.
func (a *Adapter) FillMakeOrder(exchangeOrderID string, fillQuantity, deliverQuantity decimal.Decimal, returnRemainder bool) error {
	order, err := a.get(exchangeOrderID)
	if err != nil {
		return err
	}
	if order.Status != "OPEN" {
		return ErrOrderClosed
	}
	if order.RemainingSell.LessThan(fillQuantity) {
		return fmt.Errorf("fill %s exceeds remaining %s", fillQuantity, order.RemainingSell)
	}
	// The counterparty sources the buy asset off-book.
	if deliverQuantity.IsPositive() {
		if err := a.tokens.Mint(EscrowAccount, order.BuyAsset, deliverQuantity); err != nil {
			return err
		}
		if err := a.tokens.Transfer(EscrowAccount, order.Maker, order.BuyAsset, deliverQuantity); err != nil {
			return err
		}
	}
	order.RemainingSell = order.RemainingSell.Sub(fillQuantity)
	if returnRemainder && order.RemainingSell.IsPositive() {
		if err := a.tokens.Transfer(EscrowAccount, order.Maker, order.SellAsset, order.RemainingSell); err != nil {
			return err
		}
		order.RemainingSell = decimal.Zero
	}
	if order.RemainingSell.IsZero() {
		order.Status = "FILLED"
	}
	order.UpdatedAt = time.Now()
	return a.db.Save(order).Error
}

func (a *Adapter) get(exchangeOrderID string) (*Order, error) {
	var order Order
	if err := a.db.Where("exchange_order_id = ?", exchangeOrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
