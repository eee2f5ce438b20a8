// Package valuation computes the fund's gross and net asset value,
// per-share price and manager reward accrual. Assets in flight to
// exchanges are still counted as fund property; all divisions floor.
package valuation

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/ledger"
	"github.com/openvault/fund-api/internal/metrics"
	"github.com/openvault/fund-api/internal/modules"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/types"
)

var (
	ErrZeroSupply     = errors.New("total supply is zero")
	ErrZeroGav        = errors.New("gross asset value is zero")
	ErrNotManager     = errors.New("caller is not the fund manager")
	ErrFundShutDown   = errors.New("fund is shut down")
	ErrOpenMakeOrders = errors.New("open make orders outstanding")
	ErrNoCheckpoint   = errors.New("no reward checkpoint")
)

// Result is one composed valuation pass.
type Result struct {
	Gav               decimal.Decimal `json:"gav"`
	ManagementReward  decimal.Decimal `json:"management_reward"`
	PerformanceReward decimal.Decimal `json:"performance_reward"`
	UnclaimedRewards  decimal.Decimal `json:"unclaimed_rewards"`
	Nav               decimal.Decimal `json:"nav"`
	SharePrice        decimal.Decimal `json:"share_price"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
}

// Engine values the fund.
type Engine struct {
	db     *gorm.DB
	shares *ledger.Ledger
	tokens *token.Ledger
	books  *accounting.Books
	feed   modules.PriceFeed
	funds  *fund.Service
	events *events.Recorder
}

// NewEngine wires the valuation engine and seeds the inception
// checkpoint (share price of exactly one base unit) if none exists.
func NewEngine(db *gorm.DB, shares *ledger.Ledger, tokens *token.Ledger, books *accounting.Books, feed modules.PriceFeed, funds *fund.Service, recorder *events.Recorder) (*Engine, error) {
	e := &Engine{db: db, shares: shares, tokens: tokens, books: books, feed: feed, funds: funds, events: recorder}
	var checkpoint Calculations
	err := db.Order("id desc").First(&checkpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		checkpoint = Calculations{
			Gav:               decimal.Zero,
			ManagementReward:  decimal.Zero,
			PerformanceReward: decimal.Zero,
			UnclaimedRewards:  decimal.Zero,
			Nav:               decimal.Zero,
			SharePrice:        types.BaseUnits,
			TotalSupply:       decimal.Zero,
			Timestamp:         time.Now(),
		}
		if err := db.Create(&checkpoint).Error; err != nil {
			return nil, err
		}
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Checkpoint returns the latest reward checkpoint.
func (e *Engine) Checkpoint() (*Calculations, error) {
	var checkpoint Calculations
	if err := e.db.Order("id desc").First(&checkpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, err
	}
	return &checkpoint, nil
}

// CalcGav sums custody plus in-flight holdings of every registered
// asset, valued at the feed price and normalized by the asset's
// decimal base. Iteration follows feed registration order so repeated
// calls within one feed state are reproducible.
func (e *Engine) CalcGav() (decimal.Decimal, error) {
	f, err := e.funds.Get()
	if err != nil {
		return decimal.Zero, err
	}
	assets, err := e.feed.RegisteredAssets()
	if err != nil {
		return decimal.Zero, err
	}
	gav := decimal.Zero
	for _, asset := range assets {
		custody, err := e.tokens.BalanceOf(f.CustodyAccount(), asset)
		if err != nil {
			return decimal.Zero, err
		}
		inFlight, err := e.books.SentToExchange(asset)
		if err != nil {
			return decimal.Zero, err
		}
		holdings := custody.Add(inFlight)
		if holdings.IsZero() {
			continue
		}
		price, err := e.feed.Price(asset)
		if err != nil {
			return decimal.Zero, err
		}
		assetDecimals, err := e.feed.Decimals(asset)
		if err != nil {
			return decimal.Zero, err
		}
		gav = gav.Add(types.MulDiv(holdings, price, decimal.New(1, assetDecimals)))
	}
	return gav, nil
}

// CalcUnclaimedRewards accrues manager rewards since the last
// checkpoint. The management reward grows linearly with elapsed time;
// the performance reward accrues only when the current share price
// (computed from gav directly at this step) exceeds the checkpoint's,
// with no claw-back on drawdowns.
func (e *Engine) CalcUnclaimedRewards(gav decimal.Decimal) (managementReward, performanceReward, unclaimedRewards decimal.Decimal, err error) {
	f, err := e.funds.Get()
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	checkpoint, err := e.Checkpoint()
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	elapsed := decimal.NewFromInt(int64(time.Since(checkpoint.Timestamp).Seconds()))
	if elapsed.IsNegative() {
		elapsed = decimal.Zero
	}
	managementReward = types.MulDiv(f.ManagementRewardRate.Mul(elapsed), gav, types.DivisorFee)

	performanceReward = decimal.Zero
	totalSupply, err := e.shares.TotalSupply()
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	if totalSupply.IsPositive() {
		currentSharePrice := types.MulDiv(gav, types.BaseUnits, totalSupply)
		if currentSharePrice.GreaterThan(checkpoint.SharePrice) {
			// Value gained across the whole supply, in reference base
			// units, then scaled by the performance rate.
			gain := types.MulDiv(currentSharePrice.Sub(checkpoint.SharePrice), totalSupply, types.BaseUnits)
			performanceReward = types.MulDiv(f.PerformanceRewardRate, gain, types.DivisorFee)
		}
	}

	unclaimedRewards = managementReward.Add(performanceReward)
	return managementReward, performanceReward, unclaimedRewards, nil
}

// CalcNav is gross asset value minus unclaimed manager rewards.
func (e *Engine) CalcNav(gav, unclaimedRewards decimal.Decimal) decimal.Decimal {
	return gav.Sub(unclaimedRewards)
}

// CalcValuePerShare converts a fund-wide value into a per-share value.
// Fails when no shares exist.
func (e *Engine) CalcValuePerShare(value decimal.Decimal) (decimal.Decimal, error) {
	totalSupply, err := e.shares.TotalSupply()
	if err != nil {
		return decimal.Zero, err
	}
	if !totalSupply.IsPositive() {
		return decimal.Zero, ErrZeroSupply
	}
	return types.MulDiv(value, types.BaseUnits, totalSupply), nil
}

// PerformCalculations composes gav, rewards, nav and share price. With
// zero supply the share price is the bootstrap value of exactly one
// base unit.
func (e *Engine) PerformCalculations() (*Result, error) {
	gav, err := e.CalcGav()
	if err != nil {
		return nil, err
	}
	managementReward, performanceReward, unclaimedRewards, err := e.CalcUnclaimedRewards(gav)
	if err != nil {
		return nil, err
	}
	nav := e.CalcNav(gav, unclaimedRewards)
	totalSupply, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}

	sharePrice := types.BaseUnits
	if totalSupply.IsPositive() {
		sharePrice, err = e.CalcValuePerShare(nav)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Gav:               gav,
		ManagementReward:  managementReward,
		PerformanceReward: performanceReward,
		UnclaimedRewards:  unclaimedRewards,
		Nav:               nav,
		SharePrice:        sharePrice,
		TotalSupply:       totalSupply,
	}

	metrics.Gav.Set(toFloat(gav))
	metrics.SharePrice.Set(toFloat(sharePrice))
	metrics.TotalSupply.Set(toFloat(totalSupply))
	return result, nil
}

// ConvertUnclaimedRewards mints accrued rewards to the manager as new
// shares (dilutive issuance rather than a cash payout) and replaces
// the checkpoint wholesale. Requires no make orders outstanding so the
// valuation is not distorted by in-flight positions mid-settlement.
func (e *Engine) ConvertUnclaimedRewards(caller string) (*Calculations, error) {
	f, err := e.funds.Get()
	if err != nil {
		return nil, err
	}
	if caller != f.Manager {
		return nil, ErrNotManager
	}
	if f.ShutDown {
		return nil, ErrFundShutDown
	}
	openOrders, err := e.books.OpenMakeOrderCount()
	if err != nil {
		return nil, err
	}
	if openOrders > 0 {
		return nil, ErrOpenMakeOrders
	}

	result, err := e.PerformCalculations()
	if err != nil {
		return nil, err
	}
	if !result.Gav.IsPositive() {
		return nil, ErrZeroGav
	}

	rewardShares := types.MulDiv(result.TotalSupply, result.UnclaimedRewards, result.Gav)
	if rewardShares.IsPositive() {
		if err := e.shares.CreateShares(f.Manager, rewardShares); err != nil {
			return nil, err
		}
	}
	newSupply, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}

	checkpoint := Calculations{
		Gav:               result.Gav,
		ManagementReward:  result.ManagementReward,
		PerformanceReward: result.PerformanceReward,
		UnclaimedRewards:  result.UnclaimedRewards,
		Nav:               result.Nav,
		SharePrice:        result.SharePrice,
		TotalSupply:       newSupply,
		Timestamp:         time.Now(),
	}
	if err := e.db.Create(&checkpoint).Error; err != nil {
		return nil, err
	}

	e.events.Record(events.KindRewardsConverted, f.FundID, map[string]interface{}{
		"reward_shares":     rewardShares.String(),
		"unclaimed_rewards": result.UnclaimedRewards.String(),
		"gav":               result.Gav.String(),
		"share_price":       result.SharePrice.String(),
	})
	log.Info().
		Str("fund_id", f.FundID).
		Str("reward_shares", rewardShares.String()).
		Str("unclaimed_rewards", result.UnclaimedRewards.String()).
		Msg("unclaimed rewards converted to shares")
	return &checkpoint, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
