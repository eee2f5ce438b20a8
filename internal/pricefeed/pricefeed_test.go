package pricefeed

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestFeed(t *testing.T, maxPriceAge time.Duration) *Feed {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fund.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&FeedAsset{}, &FeedState{}))
	feed, err := NewFeed(db, time.Second, maxPriceAge)
	require.NoError(t, err)
	return feed
}

func TestPublishUpdateAdvancesID(t *testing.T) {
	feed := newTestFeed(t, time.Hour)
	require.NoError(t, feed.RegisterAsset("WETH", 18))

	id, err := feed.LastUpdateID()
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	price := decimal.New(1, 18)
	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"WETH": price}))
	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"WETH": price}))

	id, err = feed.LastUpdateID()
	require.NoError(t, err)
	assert.EqualValues(t, 2, id)

	got, err := feed.Price("WETH")
	require.NoError(t, err)
	assert.True(t, got.Equal(price))
}

func TestPublishUpdateUnknownAsset(t *testing.T) {
	feed := newTestFeed(t, time.Hour)
	err := feed.PublishUpdate(map[string]decimal.Decimal{"DOGE": decimal.New(1, 18)})
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestIsRecent(t *testing.T) {
	feed := newTestFeed(t, 50*time.Millisecond)
	require.NoError(t, feed.RegisterAsset("WETH", 18))

	// No price yet
	assert.False(t, feed.IsRecent("WETH"))

	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"WETH": decimal.New(1, 18)}))
	assert.True(t, feed.IsRecent("WETH"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, feed.IsRecent("WETH"))
}

func TestExistsPriceOnPair(t *testing.T) {
	feed := newTestFeed(t, time.Hour)
	require.NoError(t, feed.RegisterAsset("WETH", 18))
	require.NoError(t, feed.RegisterAsset("MLN", 18))

	assert.False(t, feed.ExistsPriceOnPair("WETH", "MLN"))

	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"WETH": decimal.New(1, 18)}))
	assert.False(t, feed.ExistsPriceOnPair("WETH", "MLN"))

	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"MLN": decimal.New(5, 17)}))
	assert.True(t, feed.ExistsPriceOnPair("WETH", "MLN"))
}

func TestOrderPriceInfo(t *testing.T) {
	feed := newTestFeed(t, time.Hour)
	require.NoError(t, feed.RegisterAsset("WETH", 18))
	require.NoError(t, feed.RegisterAsset("MLN", 18))
	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{
		"WETH": decimal.New(1, 18),
		"MLN":  decimal.New(5, 17),
	}))

	// Selling 100 WETH for 200 MLN implies 2 MLN per WETH, exactly the
	// reference rate of 1e18 / 5e17.
	orderPrice, referencePrice, err := feed.OrderPriceInfo("WETH", "MLN", decimal.New(100, 18), decimal.New(200, 18))
	require.NoError(t, err)
	assert.True(t, orderPrice.Equal(decimal.New(2, 18)))
	assert.True(t, referencePrice.Equal(decimal.New(2, 18)))
}

func TestRegisteredAssetsPreserveOrder(t *testing.T) {
	feed := newTestFeed(t, time.Hour)
	for _, asset := range []string{"WETH", "MLN", "DAI"} {
		require.NoError(t, feed.RegisterAsset(asset, 18))
	}
	assets, err := feed.RegisteredAssets()
	require.NoError(t, err)
	assert.Equal(t, []string{"WETH", "MLN", "DAI"}, assets)
}
