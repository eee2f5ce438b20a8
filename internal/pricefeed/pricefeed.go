// Package pricefeed is a database-backed price oracle implementing the
// modules.PriceFeed interface. Prices are pushed in batches; every
// batch bumps the feed's update id, which the request queue uses as
// its freshness gate.
package pricefeed

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

var (
	ErrUnknownAsset = errors.New("asset not registered on feed")
	ErrNoPrice      = errors.New("no price for asset")
)

// FeedAsset is one registered asset and its latest price in
// reference-asset base units per whole unit.
type FeedAsset struct {
	gorm.Model `json:"-"`
	Asset      string          `gorm:"uniqueIndex" json:"asset"`
	Decimals   int32           `json:"decimals"`
	Price      decimal.Decimal `json:"price"`
	HasPrice   bool            `json:"has_price"`
	Position   int             `json:"position"` // registration order
	UpdatedAt  time.Time       `json:"updated_at"`
}

// FeedState is the single-row feed update bookkeeping.
type FeedState struct {
	gorm.Model     `json:"-"`
	LastUpdateID   int64     `json:"last_update_id"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Feed is the simulated oracle.
type Feed struct {
	db                *gorm.DB
	minUpdateInterval time.Duration
	maxPriceAge       time.Duration
}

// NewFeed creates the feed, seeding its state row if absent.
// minUpdateInterval is the shortest gap between updates the feed
// promises; maxPriceAge is how long a price stays recent.
func NewFeed(db *gorm.DB, minUpdateInterval, maxPriceAge time.Duration) (*Feed, error) {
	f := &Feed{db: db, minUpdateInterval: minUpdateInterval, maxPriceAge: maxPriceAge}
	var state FeedState
	err := db.First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = FeedState{LastUpdateID: 0, LastUpdateTime: time.Now()}
		if err := db.Create(&state).Error; err != nil {
			return nil, err
		}
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RegisterAsset adds an asset to the feed's universe. Registration
// order is preserved and drives valuation iteration order.
func (f *Feed) RegisterAsset(asset string, decimals int32) error {
	var count int64
	if err := f.db.Model(&FeedAsset{}).Count(&count).Error; err != nil {
		return err
	}
	row := FeedAsset{Asset: asset, Decimals: decimals, Price: decimal.Zero, Position: int(count)}
	return f.db.Create(&row).Error
}

// PublishUpdate applies a batch of prices and advances the update id.
func (f *Feed) PublishUpdate(prices map[string]decimal.Decimal) error {
	return f.db.Transaction(func(tx *gorm.DB) error {
		for asset, price := range prices {
			var row FeedAsset
			if err := tx.Where("asset = ?", asset).First(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
				}
				return err
			}
			row.Price = price
			row.HasPrice = true
			row.UpdatedAt = time.Now()
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		var state FeedState
		if err := tx.First(&state).Error; err != nil {
			return err
		}
		state.LastUpdateID++
		state.LastUpdateTime = time.Now()
		if err := tx.Save(&state).Error; err != nil {
			return err
		}
		log.Debug().
			Int64("update_id", state.LastUpdateID).
			Int("assets", len(prices)).
			Msg("price feed updated")
		return nil
	})
}

// Price returns the latest price of one whole unit of asset in
// reference-asset base units.
func (f *Feed) Price(asset string) (decimal.Decimal, error) {
	row, err := f.asset(asset)
	if err != nil {
		return decimal.Zero, err
	}
	if !row.HasPrice {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return row.Price, nil
}

// Decimals returns the asset's base-unit exponent.
func (f *Feed) Decimals(asset string) (int32, error) {
	row, err := f.asset(asset)
	if err != nil {
		return 0, err
	}
	return row.Decimals, nil
}

// ExistsPriceOnPair reports whether both legs carry price data.
func (f *Feed) ExistsPriceOnPair(sellAsset, buyAsset string) bool {
	for _, asset := range []string{sellAsset, buyAsset} {
		row, err := f.asset(asset)
		if err != nil || !row.HasPrice || row.Price.IsZero() {
			return false
		}
	}
	return true
}

// IsRecent reports whether the asset's price was updated within the
// feed's freshness window.
func (f *Feed) IsRecent(asset string) bool {
	row, err := f.asset(asset)
	if err != nil || !row.HasPrice {
		return false
	}
	var state FeedState
	if err := f.db.First(&state).Error; err != nil {
		return false
	}
	return time.Since(state.LastUpdateTime) <= f.maxPriceAge
}

// OrderPriceInfo derives the implied order price and the reference
// price for a pair, both in buy-asset base units per whole sell-asset
// unit, floor division.
func (f *Feed) OrderPriceInfo(sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if sellQuantity.IsZero() {
		return decimal.Zero, decimal.Zero, errors.New("zero sell quantity")
	}
	sellRow, err := f.asset(sellAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	buyRow, err := f.asset(buyAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !sellRow.HasPrice || !buyRow.HasPrice || buyRow.Price.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPrice, sellAsset, buyAsset)
	}

	sellBase := decimal.New(1, sellRow.Decimals)
	buyBase := decimal.New(1, buyRow.Decimals)
	orderPrice := types.MulDiv(buyQuantity, sellBase, sellQuantity)
	referencePrice := types.MulDiv(sellRow.Price, buyBase, buyRow.Price)
	return orderPrice, referencePrice, nil
}

// LastUpdateID returns the monotonically increasing feed update id.
func (f *Feed) LastUpdateID() (int64, error) {
	var state FeedState
	if err := f.db.First(&state).Error; err != nil {
		return 0, err
	}
	return state.LastUpdateID, nil
}

// LastUpdateTime returns the timestamp of the latest batch.
func (f *Feed) LastUpdateTime() (time.Time, error) {
	var state FeedState
	if err := f.db.First(&state).Error; err != nil {
		return time.Time{}, err
	}
	return state.LastUpdateTime, nil
}

// MinUpdateInterval returns the feed's promised minimum gap between
// updates.
func (f *Feed) MinUpdateInterval() time.Duration {
	return f.minUpdateInterval
}

// RegisteredAssets returns all assets in registration order.
func (f *Feed) RegisteredAssets() ([]string, error) {
	var rows []FeedAsset
	if err := f.db.Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]string, len(rows))
	for i, row := range rows {
		assets[i] = row.Asset
	}
	return assets, nil
}

func (f *Feed) asset(asset string) (*FeedAsset, error) {
	var row FeedAsset
	if err := f.db.Where("asset = ?", asset).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		}
		return nil, err
	}
	return &row, nil
}
