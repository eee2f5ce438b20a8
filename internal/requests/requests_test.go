package requests

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

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/internal/compliance"
	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/ledger"
	"github.com/openvault/fund-api/internal/pricefeed"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/types"
	"github.com/openvault/fund-api/internal/valuation"
)

const (
	investor = "investor"
	worker   = "worker"
)

type testFixture struct {
	service *Service
	tokens  *token.Ledger
	shares  *ledger.Ledger
	feed    *pricefeed.Feed
	funds   *fund.Service
	fund    *fund.Fund
}

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// newFixture wires a full fund against a throwaway database: zero
// reward rates, a WETH reference asset priced at par and an investor
// funded with 30000 base units.
func newFixture(t *testing.T, minUpdateInterval time.Duration) *testFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fund.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&fund.Fund{},
		&token.Balance{},
		&token.Allowance{},
		&ledger.ShareBalance{},
		&ledger.ShareSupply{},
		&pricefeed.FeedAsset{},
		&pricefeed.FeedState{},
		&accounting.AssetCounters{},
		&accounting.MakeOrderMarker{},
		&valuation.Calculations{},
		&Request{},
		&events.FundEvent{},
	))

	tokens := token.NewLedger(db)
	shares, err := ledger.NewLedger(db)
	require.NoError(t, err)
	books := accounting.NewBooks(db)
	feed, err := pricefeed.NewFeed(db, minUpdateInterval, time.Hour)
	require.NoError(t, err)
	funds := fund.NewService(db)
	f, err := funds.Create(fund.Config{
		Name:                  "Test Fund",
		Manager:               "manager",
		ReferenceAsset:        "WETH",
		ManagementRewardRate:  decimal.Zero,
		PerformanceRewardRate: decimal.Zero,
	})
	require.NoError(t, err)
	recorder := events.NewRecorder(db)
	engine, err := valuation.NewEngine(db, shares, tokens, books, feed, funds, recorder)
	require.NoError(t, err)

	require.NoError(t, feed.RegisterAsset("WETH", 18))
	require.NoError(t, feed.PublishUpdate(map[string]decimal.Decimal{"WETH": types.BaseUnits}))
	require.NoError(t, tokens.Mint(investor, "WETH", d(30000)))

	service := NewService(db, shares, tokens, engine, funds, feed, compliance.NewParticipationPolicy(), recorder)
	return &testFixture{service: service, tokens: tokens, shares: shares, feed: feed, funds: funds, fund: f}
}

// advanceFeed publishes n updates at the current price.
func (fx *testFixture) advanceFeed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, fx.feed.PublishUpdate(map[string]decimal.Decimal{"WETH": types.BaseUnits}))
	}
}

func (fx *testFixture) tokenBalance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	balance, err := fx.tokens.BalanceOf(account, "WETH")
	require.NoError(t, err)
	return balance
}

func TestSubscriptionRoundTrip(t *testing.T) {
	fx := newFixture(t, 0)

	request, err := fx.service.RequestSubscription(investor, d(20000), d(20000), d(100))
	require.NoError(t, err)

	// Collateral locks at request time
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(9900)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(20100)))

	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(request.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, result.Outcome)
	assert.True(t, result.SharePrice.Equal(types.BaseUnits))

	// At the bootstrap price the offered value is consumed exactly
	investorShares, err := fx.shares.BalanceOf(investor)
	require.NoError(t, err)
	assert.True(t, investorShares.Equal(d(20000)))
	assert.True(t, fx.tokenBalance(t, worker).Equal(d(100)))
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(9900)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(20000)))
	assert.NoError(t, fx.shares.CheckConservation())

	stored, err := fx.service.GetRequest(request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusExecuted, stored.Status)
}

func TestSubscriptionRefundsRemainder(t *testing.T) {
	fx := newFixture(t, 0)

	// Offering 500 over the actual value returns the cushion
	request, err := fx.service.RequestSubscription(investor, d(20000), d(20500), d(100))
	require.NoError(t, err)

	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	require.NoError(t, err)

	assert.True(t, fx.tokenBalance(t, investor).Equal(d(9900)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(20000)))
}

func TestRedemptionRoundTrip(t *testing.T) {
	fx := newFixture(t, 0)

	subscription, err := fx.service.RequestSubscription(investor, d(20000), d(20000), d(100))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(subscription.RequestID, worker)
	require.NoError(t, err)

	investorBefore := fx.tokenBalance(t, investor)

	redemption, err := fx.service.RequestRedemption(investor, d(500), d(500), d(500))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(redemption.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, result.Outcome)

	// The payout and the incentive cancel out for the investor
	assert.True(t, fx.tokenBalance(t, investor).Equal(investorBefore))
	assert.True(t, fx.tokenBalance(t, worker).Equal(d(600))) // 100 + 500
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(19500)))

	supply, err := fx.shares.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.Equal(d(19500)))
	assert.NoError(t, fx.shares.CheckConservation())
}

func TestRedemptionZeroLimitExecutesWithoutPayout(t *testing.T) {
	fx := newFixture(t, 0)

	subscription, err := fx.service.RequestSubscription(investor, d(20000), d(20000), d(100))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(subscription.RequestID, worker)
	require.NoError(t, err)

	investorBefore := fx.tokenBalance(t, investor)
	custodyBefore := fx.tokenBalance(t, fx.fund.CustodyAccount())

	// A zero requested value accepts any share price and pays nothing
	// out of custody.
	redemption, err := fx.service.RequestRedemption(investor, d(500), decimal.Zero, d(100))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(redemption.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, result.Outcome)

	held, err := fx.shares.BalanceOf(investor)
	require.NoError(t, err)
	assert.True(t, held.Equal(d(19500)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(custodyBefore))
	// Only the incentive moved, from the owner to the worker.
	assert.True(t, fx.tokenBalance(t, investor).Equal(investorBefore.Sub(d(100))))
	assert.NoError(t, fx.shares.CheckConservation())
}

func TestExecutionRollsBackOnFailedTransfer(t *testing.T) {
	fx := newFixture(t, 0)

	subscription, err := fx.service.RequestSubscription(investor, d(20000), d(20000), d(100))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(subscription.RequestID, worker)
	require.NoError(t, err)

	// The incentive exceeds what the owner holds even after the
	// payout, so the final transfer fails and must take the status
	// flip and the burn with it.
	redemption, err := fx.service.RequestRedemption(investor, d(500), d(500), d(15000))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(redemption.RequestID, worker)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	reloaded, err := fx.service.GetRequest(redemption.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusOpen, reloaded.Status)

	held, err := fx.shares.BalanceOf(investor)
	require.NoError(t, err)
	assert.True(t, held.Equal(d(20000)))
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(9900)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(20000)))
	assert.NoError(t, fx.shares.CheckConservation())
}

func TestSubscriptionLimitMissRefunds(t *testing.T) {
	fx := newFixture(t, 0)

	// 100 shares cost 100 at the bootstrap price; offering 50 misses
	request, err := fx.service.RequestSubscription(investor, d(100), d(50), d(10))
	require.NoError(t, err)
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(29940)))

	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(request.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, result.Outcome)

	// Collateral and incentive both come back; no shares exist
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(30000)))
	supply, err := fx.shares.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.IsZero())

	stored, err := fx.service.GetRequest(request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusCancelled, stored.Status)
}

func TestSubscriptionLimitMissConsume(t *testing.T) {
	fx := newFixture(t, 0)
	fx.service.LimitMissPolicy = LimitMissConsume

	request, err := fx.service.RequestSubscription(investor, d(100), d(50), d(10))
	require.NoError(t, err)

	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(request.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConsumed, result.Outcome)

	// The request is spent and the collateral stays with the fund
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(29940)))
	assert.True(t, fx.tokenBalance(t, fx.fund.CustodyAccount()).Equal(d(60)))
	supply, err := fx.shares.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.IsZero())

	stored, err := fx.service.GetRequest(request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusExecuted, stored.Status)
}

func TestExecutionRequiresTwoFeedUpdates(t *testing.T) {
	fx := newFixture(t, 0)

	request, err := fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	require.NoError(t, err)

	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	assert.ErrorIs(t, err, ErrFeedNotAdvanced)

	// One update is not enough
	fx.advanceFeed(t, 1)
	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	assert.ErrorIs(t, err, ErrFeedNotAdvanced)

	fx.advanceFeed(t, 1)
	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	assert.NoError(t, err)
}

func TestExecutionRequiresCooldown(t *testing.T) {
	fx := newFixture(t, time.Hour)

	request, err := fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)

	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	assert.ErrorIs(t, err, ErrCooldownNotElapsed)
}

func TestCancelRequest(t *testing.T) {
	fx := newFixture(t, 0)

	request, err := fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	require.NoError(t, err)
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(29890)))

	assert.ErrorIs(t, fx.service.CancelRequest(request.RequestID, "stranger"), ErrNotRequestOwner)

	require.NoError(t, fx.service.CancelRequest(request.RequestID, investor))
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(30000)))

	// A cancelled request cannot be cancelled or executed again
	assert.ErrorIs(t, fx.service.CancelRequest(request.RequestID, investor), ErrRequestNotOpen)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	assert.ErrorIs(t, err, ErrRequestNotOpen)
}

func TestCancelExecutedRequestFails(t *testing.T) {
	fx := newFixture(t, 0)

	request, err := fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(request.RequestID, worker)
	require.NoError(t, err)

	assert.ErrorIs(t, fx.service.CancelRequest(request.RequestID, investor), ErrRequestNotOpen)
}

func TestAnyoneMayCancelAfterShutdown(t *testing.T) {
	fx := newFixture(t, 0)

	request, err := fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	require.NoError(t, err)
	require.NoError(t, fx.funds.Shutdown("test"))

	require.NoError(t, fx.service.CancelRequest(request.RequestID, "stranger"))
	assert.True(t, fx.tokenBalance(t, investor).Equal(d(30000)))
}

func TestSubscriptionPreconditions(t *testing.T) {
	fx := newFixture(t, 0)

	_, err := fx.service.RequestSubscription(investor, d(100), d(100), decimal.Zero)
	assert.ErrorIs(t, err, ErrZeroIncentive)

	_, err = fx.service.RequestSubscription(investor, decimal.Zero, d(100), d(10))
	assert.ErrorIs(t, err, ErrZeroShares)

	require.NoError(t, fx.funds.ToggleSubscriptions(false))
	_, err = fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	assert.ErrorIs(t, err, ErrSubscriptionsClosed)
	require.NoError(t, fx.funds.ToggleSubscriptions(true))

	require.NoError(t, fx.funds.ToggleRedemptions(false))
	_, err = fx.service.RequestRedemption(investor, d(100), d(100), d(10))
	assert.ErrorIs(t, err, ErrRedemptionsClosed)
	require.NoError(t, fx.funds.ToggleRedemptions(true))

	require.NoError(t, fx.funds.Shutdown("test"))
	_, err = fx.service.RequestSubscription(investor, d(100), d(100), d(10))
	assert.ErrorIs(t, err, ErrFundShutDown)
	_, err = fx.service.RequestRedemption(investor, d(100), d(100), d(10))
	assert.ErrorIs(t, err, ErrFundShutDown)
}

func TestRedeemSliceProRata(t *testing.T) {
	fx := newFixture(t, 0)

	// Build a position: 20000 shares against 20000 WETH in custody
	subscription, err := fx.service.RequestSubscription(investor, d(20000), d(20000), d(100))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(subscription.RequestID, worker)
	require.NoError(t, err)

	// Custody also holds a second registered asset
	require.NoError(t, fx.feed.RegisterAsset("MLN", 18))
	require.NoError(t, fx.tokens.Mint(fx.fund.CustodyAccount(), "MLN", d(4000)))

	// A quarter of the supply claims a quarter of each asset
	require.NoError(t, fx.service.RedeemSlice(investor, d(5000)))

	assert.True(t, fx.tokenBalance(t, investor).Equal(d(9900+5000)))
	mlnBalance, err := fx.tokens.BalanceOf(investor, "MLN")
	require.NoError(t, err)
	assert.True(t, mlnBalance.Equal(d(1000)))

	supply, err := fx.shares.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.Equal(d(15000)))
	assert.NoError(t, fx.shares.CheckConservation())
}

func TestRedeemSliceInsufficientShares(t *testing.T) {
	fx := newFixture(t, 0)
	assert.ErrorIs(t, fx.service.RedeemSlice(investor, d(1)), ErrInsufficientShares)
}

func TestRedemptionExecutionRejectsOversizedLimit(t *testing.T) {
	fx := newFixture(t, 0)

	subscription, err := fx.service.RequestSubscription(investor, d(1000), d(1000), d(10))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	_, err = fx.service.ExecuteRequest(subscription.RequestID, worker)
	require.NoError(t, err)

	// Asking 600 for 500 shares worth 500 misses the limit
	redemption, err := fx.service.RequestRedemption(investor, d(500), d(600), d(10))
	require.NoError(t, err)
	fx.advanceFeed(t, 2)
	result, err := fx.service.ExecuteRequest(redemption.RequestID, worker)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, result.Outcome)

	// Redemptions lock nothing upfront, so nothing moves
	supply, err := fx.shares.TotalSupply()
	require.NoError(t, err)
	assert.True(t, supply.Equal(d(1000)))
}
