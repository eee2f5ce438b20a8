// Package accounting tracks, per asset, what the fund has sent to
// exchanges, what it expects back, and the custody level last
// observed. Reconciling these counters against actual balances is the
// fund's sole defense against a manager diverting assets sent to an
// exchange.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

var ErrNoOpenMakeOrder = errors.New("no open make order for pair")

// Books is the internal accounting service.
type Books struct {
	db *gorm.DB
}

// NewBooks returns the accounting service over the given database.
func NewBooks(db *gorm.DB) *Books {
	return &Books{db: db}
}

// SentToExchange returns the quantity of asset currently in flight to
// exchanges. For any asset with no open make order this is zero.
func (b *Books) SentToExchange(asset string) (decimal.Decimal, error) {
	row, err := b.counters(b.db, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return row.QuantitySentToExchange, nil
}

// ExpectedToReturn returns the quantity of asset expected back from
// open make orders.
func (b *Books) ExpectedToReturn(asset string) (decimal.Decimal, error) {
	row, err := b.counters(b.db, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return row.QuantityExpectedToReturn, nil
}

// PreviousHoldings returns the custody level snapshotted at the last
// order placement or settlement for asset.
func (b *Books) PreviousHoldings(asset string) (decimal.Decimal, error) {
	row, err := b.counters(b.db, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return row.PreviousHoldings, nil
}

// OpenMakeOrder reports whether the pair has an outstanding make order
// and, if so, its order id.
func (b *Books) OpenMakeOrder(sellAsset, buyAsset string) (bool, string, error) {
	var marker MakeOrderMarker
	err := b.db.Where("pair_key = ? AND open = ?", types.PairKey(sellAsset, buyAsset), true).First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, marker.OrderID, nil
}

// OpenMakeOrderCount returns the number of make orders outstanding
// across all pairs.
func (b *Books) OpenMakeOrderCount() (int64, error) {
	var n int64
	if err := b.db.Model(&MakeOrderMarker{}).Where("open = ?", true).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// RecordMakeOrder books a placed make order: marks the pair open and
// bumps the sent and expected counters. The custody baselines snapshot
// only when no other open order touches the asset; an asset shared
// with another open order keeps the baseline taken when it first went
// in flight, since the aggregate counters reconcile against that.
func (b *Books) RecordMakeOrder(sellAsset, buyAsset, orderID string, sellQuantity, buyQuantity, custodySellBefore, custodyBuyBefore decimal.Decimal) error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		pairKey := types.PairKey(sellAsset, buyAsset)
		sellShared, err := b.assetInOpenOrder(tx, sellAsset, pairKey)
		if err != nil {
			return err
		}
		buyShared, err := b.assetInOpenOrder(tx, buyAsset, pairKey)
		if err != nil {
			return err
		}
		if err := b.setMarker(tx, sellAsset, buyAsset, orderID, true); err != nil {
			return err
		}
		sell, err := b.counters(tx, sellAsset)
		if err != nil {
			return err
		}
		sell.QuantitySentToExchange = sell.QuantitySentToExchange.Add(sellQuantity)
		if !sellShared {
			sell.PreviousHoldings = custodySellBefore
		}
		sell.UpdatedAt = time.Now()
		if err := tx.Save(sell).Error; err != nil {
			return err
		}
		buy, err := b.counters(tx, buyAsset)
		if err != nil {
			return err
		}
		buy.QuantityExpectedToReturn = buy.QuantityExpectedToReturn.Add(buyQuantity)
		if !buyShared {
			buy.PreviousHoldings = custodyBuyBefore
		}
		buy.UpdatedAt = time.Now()
		return tx.Save(buy).Error
	})
}

// ReleaseMakeOrder unwinds the counters symmetrically with placement,
// used when a make order is cancelled before settlement.
func (b *Books) ReleaseMakeOrder(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := b.setMarker(tx, sellAsset, buyAsset, "", false); err != nil {
			return err
		}
		sell, err := b.counters(tx, sellAsset)
		if err != nil {
			return err
		}
		sell.QuantitySentToExchange = floorZero(sell.QuantitySentToExchange.Sub(sellQuantity))
		sell.UpdatedAt = time.Now()
		if err := tx.Save(sell).Error; err != nil {
			return err
		}
		buy, err := b.counters(tx, buyAsset)
		if err != nil {
			return err
		}
		buy.QuantityExpectedToReturn = floorZero(buy.QuantityExpectedToReturn.Sub(buyQuantity))
		buy.UpdatedAt = time.Now()
		return tx.Save(buy).Error
	})
}

// SettlementResult is the outcome of reconciling a make order against
// actual custody.
type SettlementResult struct {
	Embezzled bool `json:"embezzled"`
	// Factor is the fraction of the intended sell quantity actually
	// debited from custody, fixed-point against BaseUnits, floored.
	Factor decimal.Decimal `json:"factor"`
	// RevisedExpected is the expected return of the buy asset rescaled
	// by Factor, floored.
	RevisedExpected decimal.Decimal `json:"revised_expected"`
	ActualDebit     decimal.Decimal `json:"actual_debit"`
}

// Reconcile checks an outstanding make order on (sellAsset, buyAsset)
// against the custody balances observed now.
//
// If more of the sell asset left custody than was sent to the
// exchange, that alone is a shortfall. Otherwise the expected return
// of the buy asset is rescaled pro rata by the fraction actually
// debited (partial fills), and custody of the buy asset must have
// grown by at least that revised expectation.
func (b *Books) Reconcile(sellAsset, buyAsset string, custodySell, custodyBuy decimal.Decimal) (*SettlementResult, error) {
	open, _, err := b.OpenMakeOrder(sellAsset, buyAsset)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrNoOpenMakeOrder
	}

	sell, err := b.counters(b.db, sellAsset)
	if err != nil {
		return nil, err
	}
	buy, err := b.counters(b.db, buyAsset)
	if err != nil {
		return nil, err
	}
	if sell.QuantitySentToExchange.IsZero() {
		return nil, fmt.Errorf("%w: nothing sent in %s", ErrNoOpenMakeOrder, sellAsset)
	}

	actualDebit := sell.PreviousHoldings.Sub(custodySell)
	if actualDebit.GreaterThan(sell.QuantitySentToExchange) {
		// More left custody than the order accounts for.
		return &SettlementResult{Embezzled: true, ActualDebit: actualDebit}, nil
	}
	if actualDebit.IsNegative() {
		actualDebit = decimal.Zero
	}

	factor := types.MulDiv(actualDebit, types.BaseUnits, sell.QuantitySentToExchange)
	revised := types.MulDiv(buy.QuantityExpectedToReturn, factor, types.BaseUnits)

	result := &SettlementResult{
		Factor:          factor,
		RevisedExpected: revised,
		ActualDebit:     actualDebit,
	}
	if custodyBuy.LessThan(buy.PreviousHoldings.Add(revised)) {
		result.Embezzled = true
	}
	return result, nil
}

// SettleMakeOrder closes the books on a cleanly reconciled make order.
// The settled order's quantities come off the counters rather than the
// counters resetting, so another open order sharing an asset keeps its
// in-flight accounting intact. Holdings baselines snap to current
// custody only once no other open order touches the asset; while one
// does, the baseline shifts by the settled order's own movement.
func (b *Books) SettleMakeOrder(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal, result *SettlementResult, custodySell, custodyBuy decimal.Decimal) error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		pairKey := types.PairKey(sellAsset, buyAsset)
		if err := b.setMarker(tx, sellAsset, buyAsset, "", false); err != nil {
			return err
		}
		sellShared, err := b.assetInOpenOrder(tx, sellAsset, pairKey)
		if err != nil {
			return err
		}
		sell, err := b.counters(tx, sellAsset)
		if err != nil {
			return err
		}
		sell.QuantitySentToExchange = floorZero(sell.QuantitySentToExchange.Sub(sellQuantity))
		if sellShared {
			// The reconciled debit aggregates every open order on the
			// asset; at most sellQuantity of it belongs to the order
			// being settled.
			attributed := result.ActualDebit
			if attributed.GreaterThan(sellQuantity) {
				attributed = sellQuantity
			}
			sell.PreviousHoldings = floorZero(sell.PreviousHoldings.Sub(attributed))
		} else {
			sell.PreviousHoldings = custodySell
		}
		sell.UpdatedAt = time.Now()
		if err := tx.Save(sell).Error; err != nil {
			return err
		}
		buyShared, err := b.assetInOpenOrder(tx, buyAsset, pairKey)
		if err != nil {
			return err
		}
		buy, err := b.counters(tx, buyAsset)
		if err != nil {
			return err
		}
		buy.QuantityExpectedToReturn = floorZero(buy.QuantityExpectedToReturn.Sub(buyQuantity))
		if buyShared {
			buy.PreviousHoldings = buy.PreviousHoldings.Add(result.RevisedExpected)
		} else {
			buy.PreviousHoldings = custodyBuy
		}
		buy.UpdatedAt = time.Now()
		return tx.Save(buy).Error
	})
}

func (b *Books) counters(tx *gorm.DB, asset string) (*AssetCounters, error) {
	var row AssetCounters
	err := tx.Where("asset = ?", asset).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = AssetCounters{
			Asset:                    asset,
			QuantitySentToExchange:   decimal.Zero,
			QuantityExpectedToReturn: decimal.Zero,
			PreviousHoldings:         decimal.Zero,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// assetInOpenOrder reports whether an open make order other than the
// given pair involves the asset on either leg.
func (b *Books) assetInOpenOrder(tx *gorm.DB, asset, excludePairKey string) (bool, error) {
	var n int64
	err := tx.Model(&MakeOrderMarker{}).
		Where("open = ? AND pair_key <> ? AND (sell_asset = ? OR buy_asset = ?)", true, excludePairKey, asset, asset).
		Count(&n).Error
	return n > 0, err
}

func (b *Books) setMarker(tx *gorm.DB, sellAsset, buyAsset, orderID string, open bool) error {
	pairKey := types.PairKey(sellAsset, buyAsset)
	var marker MakeOrderMarker
	err := tx.Where("pair_key = ?", pairKey).First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		marker = MakeOrderMarker{PairKey: pairKey, SellAsset: sellAsset, BuyAsset: buyAsset, OrderID: orderID, Open: open}
		return tx.Create(&marker).Error
	}
	if err != nil {
		return err
	}
	marker.OrderID = orderID
	marker.Open = open
	marker.UpdatedAt = time.Now()
	return tx.Save(&marker).Error
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
