package accounting

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openvault/fund-api/internal/types"
)

func newTestBooks(t *testing.T) *Books {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fund.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AssetCounters{}, &MakeOrderMarker{}))
	return NewBooks(db)
}

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestRecordAndReleaseSymmetry(t *testing.T) {
	b := newTestBooks(t)

	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	open, orderID, err := b.OpenMakeOrder("WETH", "MLN")
	require.NoError(t, err)
	assert.True(t, open)
	assert.Equal(t, "XORD_1", orderID)

	sent, err := b.SentToExchange("WETH")
	require.NoError(t, err)
	assert.True(t, sent.Equal(d(100)))

	expected, err := b.ExpectedToReturn("MLN")
	require.NoError(t, err)
	assert.True(t, expected.Equal(d(200)))

	// Release unwinds exactly what Record booked
	require.NoError(t, b.ReleaseMakeOrder("WETH", "MLN", d(100), d(200)))

	open, _, err = b.OpenMakeOrder("WETH", "MLN")
	require.NoError(t, err)
	assert.False(t, open)

	sent, err = b.SentToExchange("WETH")
	require.NoError(t, err)
	assert.True(t, sent.IsZero())

	expected, err = b.ExpectedToReturn("MLN")
	require.NoError(t, err)
	assert.True(t, expected.IsZero())
}

func TestReconcileCleanFullFill(t *testing.T) {
	b := newTestBooks(t)

	// Custody before placement: 1000 WETH, 0 MLN. Order sells 100
	// WETH for 200 MLN and the counterparty delivers honestly.
	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	result, err := b.Reconcile("WETH", "MLN", d(900), d(200))
	require.NoError(t, err)
	assert.False(t, result.Embezzled)
	assert.True(t, result.ActualDebit.Equal(d(100)))
	assert.True(t, result.Factor.Equal(types.BaseUnits))
	assert.True(t, result.RevisedExpected.Equal(d(200)))
}

func TestReconcilePartialFillScalesExpectation(t *testing.T) {
	b := newTestBooks(t)

	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	// Half the sell leg filled, remainder returned: 50 WETH debited,
	// so only 100 MLN is owed.
	result, err := b.Reconcile("WETH", "MLN", d(950), d(100))
	require.NoError(t, err)
	assert.False(t, result.Embezzled)
	assert.True(t, result.ActualDebit.Equal(d(50)))
	assert.True(t, result.RevisedExpected.Equal(d(100)))
}

func TestReconcileDetectsShortDelivery(t *testing.T) {
	b := newTestBooks(t)

	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	// Full debit but only 150 of the 200 MLN owed came back.
	result, err := b.Reconcile("WETH", "MLN", d(900), d(150))
	require.NoError(t, err)
	assert.True(t, result.Embezzled)
}

func TestReconcileDetectsOverdraw(t *testing.T) {
	b := newTestBooks(t)

	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	// 150 WETH left custody against an order for 100.
	result, err := b.Reconcile("WETH", "MLN", d(850), d(300))
	require.NoError(t, err)
	assert.True(t, result.Embezzled)
	assert.True(t, result.ActualDebit.Equal(d(150)))
}

func TestReconcileWithoutOpenOrder(t *testing.T) {
	b := newTestBooks(t)
	_, err := b.Reconcile("WETH", "MLN", d(0), d(0))
	assert.ErrorIs(t, err, ErrNoOpenMakeOrder)
}

func TestSettleResetsCounters(t *testing.T) {
	b := newTestBooks(t)

	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))

	result, err := b.Reconcile("WETH", "MLN", d(900), d(200))
	require.NoError(t, err)
	require.NoError(t, b.SettleMakeOrder("WETH", "MLN", d(100), d(200), result, d(900), d(200)))

	open, _, err := b.OpenMakeOrder("WETH", "MLN")
	require.NoError(t, err)
	assert.False(t, open)

	sent, err := b.SentToExchange("WETH")
	require.NoError(t, err)
	assert.True(t, sent.IsZero())

	// Previous holdings snap to the custody observed at settlement
	prev, err := b.PreviousHoldings("WETH")
	require.NoError(t, err)
	assert.True(t, prev.Equal(d(900)))

	count, err := b.OpenMakeOrderCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSettleKeepsSharedAssetCounters(t *testing.T) {
	b := newTestBooks(t)

	// Two open make orders both selling WETH. Custody starts at 1000;
	// the first placement pulls 100, the second another 40.
	require.NoError(t, b.RecordMakeOrder("WETH", "MLN", "XORD_1", d(100), d(200), d(1000), d(0)))
	require.NoError(t, b.RecordMakeOrder("WETH", "DAI", "XORD_2", d(40), d(80), d(900), d(0)))

	sent, err := b.SentToExchange("WETH")
	require.NoError(t, err)
	assert.True(t, sent.Equal(d(140)))

	// The WETH baseline must stay at the level before the first order
	// went in flight, so the aggregate debit reconciles.
	prev, err := b.PreviousHoldings("WETH")
	require.NoError(t, err)
	assert.True(t, prev.Equal(d(1000)))

	// First order fills fully: custody 860 WETH, 200 MLN delivered.
	result, err := b.Reconcile("WETH", "MLN", d(860), d(200))
	require.NoError(t, err)
	assert.False(t, result.Embezzled)
	require.NoError(t, b.SettleMakeOrder("WETH", "MLN", d(100), d(200), result, d(860), d(200)))

	// The second order's 40 in-flight WETH survive the settlement.
	sent, err = b.SentToExchange("WETH")
	require.NoError(t, err)
	assert.True(t, sent.Equal(d(40)))

	expected, err := b.ExpectedToReturn("DAI")
	require.NoError(t, err)
	assert.True(t, expected.Equal(d(80)))

	count, err := b.OpenMakeOrderCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Baseline shifted by the settled order's debit only, so the
	// remaining order still reconciles cleanly on a full fill.
	prev, err = b.PreviousHoldings("WETH")
	require.NoError(t, err)
	assert.True(t, prev.Equal(d(900)))

	result, err = b.Reconcile("WETH", "DAI", d(860), d(80))
	require.NoError(t, err)
	assert.False(t, result.Embezzled)
	assert.True(t, result.ActualDebit.Equal(d(40)))
	assert.True(t, result.RevisedExpected.Equal(d(80)))
}
