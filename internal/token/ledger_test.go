package token

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
	require.NoError(t, db.AutoMigrate(&Balance{}, &Allowance{}))
	return NewLedger(db)
}

func TestMintAndTransfer(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Mint("alice", "WETH", decimal.NewFromInt(1000)))
	require.NoError(t, l.Transfer("alice", "bob", "WETH", decimal.NewFromInt(400)))

	aliceBalance, err := l.BalanceOf("alice", "WETH")
	require.NoError(t, err)
	assert.True(t, aliceBalance.Equal(decimal.NewFromInt(600)))

	bobBalance, err := l.BalanceOf("bob", "WETH")
	require.NoError(t, err)
	assert.True(t, bobBalance.Equal(decimal.NewFromInt(400)))
}

func TestTransferInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Mint("alice", "WETH", decimal.NewFromInt(10)))
	err := l.Transfer("alice", "bob", "WETH", decimal.NewFromInt(11))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Failed transfer leaves balances untouched
	aliceBalance, err := l.BalanceOf("alice", "WETH")
	require.NoError(t, err)
	assert.True(t, aliceBalance.Equal(decimal.NewFromInt(10)))
}

func TestTransferRejectsNonPositiveAmounts(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint("alice", "WETH", decimal.NewFromInt(10)))

	assert.ErrorIs(t, l.Transfer("alice", "bob", "WETH", decimal.Zero), ErrNonPositiveAmount)
	assert.ErrorIs(t, l.Transfer("alice", "bob", "WETH", decimal.NewFromInt(-5)), ErrNonPositiveAmount)
}

func TestApproveAndTransferFrom(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Mint("fund", "WETH", decimal.NewFromInt(500)))
	require.NoError(t, l.Approve("fund", "EXCHANGE", "WETH", decimal.NewFromInt(300)))

	require.NoError(t, l.TransferFrom("EXCHANGE", "fund", "EXCHANGE", "WETH", decimal.NewFromInt(200)))

	// Allowance is consumed, not reset
	remaining, err := l.Allowance("fund", "EXCHANGE", "WETH")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(100)))

	err = l.TransferFrom("EXCHANGE", "fund", "EXCHANGE", "WETH", decimal.NewFromInt(200))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestApproveReplacesAllowance(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Approve("fund", "EXCHANGE", "WETH", decimal.NewFromInt(300)))
	require.NoError(t, l.Approve("fund", "EXCHANGE", "WETH", decimal.NewFromInt(50)))

	remaining, err := l.Allowance("fund", "EXCHANGE", "WETH")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(50)))
}

func TestBalanceOfUnknownAccountIsZero(t *testing.T) {
	l := newTestLedger(t)
	balance, err := l.BalanceOf("nobody", "WETH")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
