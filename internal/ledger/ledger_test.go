package ledger

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fund.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ShareBalance{}, &ShareSupply{}))
	l, err := NewLedger(db)
	require.NoError(t, err)
	return l
}

func TestCreateAndAnnihilateShares(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.CreateShares("alice", decimal.NewFromInt(1000)))
	require.NoError(t, l.CreateShares("bob", decimal.NewFromInt(500)))
	require.NoError(t, l.AnnihilateShares("alice", decimal.NewFromInt(300)))

	aliceShares, err := l.BalanceOf("alice")
	require.NoError(t, err)
	assert.True(t, aliceShares.Equal(decimal.NewFromInt(700)))

	supply, err := l.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.Equal(decimal.NewFromInt(1200)))
}

// Supply must equal the sum of balances after every sequence of
// mints and burns, including failed ones.
func TestShareConservation(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.CreateShares("alice", decimal.NewFromInt(1000)))
	require.NoError(t, l.CreateShares("bob", decimal.NewFromInt(250)))
	require.NoError(t, l.AnnihilateShares("bob", decimal.NewFromInt(250)))
	require.Error(t, l.AnnihilateShares("bob", decimal.NewFromInt(1)))

	assert.NoError(t, l.CheckConservation())
}

func TestAnnihilateInsufficientShares(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.CreateShares("alice", decimal.NewFromInt(10)))
	assert.ErrorIs(t, l.AnnihilateShares("alice", decimal.NewFromInt(11)), ErrInsufficientShares)
	assert.ErrorIs(t, l.AnnihilateShares("nobody", decimal.NewFromInt(1)), ErrInsufficientShares)
}

func TestNonPositiveQuantitiesRejected(t *testing.T) {
	l := newTestLedger(t)

	assert.ErrorIs(t, l.CreateShares("alice", decimal.Zero), ErrNonPositiveShares)
	assert.ErrorIs(t, l.AnnihilateShares("alice", decimal.NewFromInt(-1)), ErrNonPositiveShares)
}
