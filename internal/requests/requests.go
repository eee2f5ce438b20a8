// Package requests implements the two-phase subscription/redemption
// queue: investors file requests now and anyone may execute them later,
// after the price feed has advanced past the state the request was
// filed under. The delay stops investors from acting on stale or
// manipulable prices; the incentive fee pays whoever executes.
package requests

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/ledger"
	"github.com/openvault/fund-api/internal/metrics"
	"github.com/openvault/fund-api/internal/modules"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/types"
	"github.com/openvault/fund-api/internal/valuation"
)

var (
	ErrFundShutDown        = errors.New("fund is shut down")
	ErrSubscriptionsClosed = errors.New("subscriptions are disabled")
	ErrRedemptionsClosed   = errors.New("redemptions are disabled")
	ErrZeroIncentive       = errors.New("incentive must be positive")
	ErrZeroShares          = errors.New("share quantity must be positive")
	ErrStalePrice          = errors.New("reference asset price is not recent")
	ErrNotPermitted        = errors.New("participation module rejected the request")
	ErrRequestNotFound     = errors.New("request not found")
	ErrRequestNotOpen      = errors.New("request is not open")
	ErrNotRequestOwner     = errors.New("caller does not own the request")
	ErrCooldownNotElapsed  = errors.New("feed minimum update interval has not elapsed")
	ErrFeedNotAdvanced     = errors.New("price feed has not advanced two updates since the request")
	ErrInsufficientShares  = errors.New("owner holds fewer shares than requested")
)

// Service manages the request queue.
type Service struct {
	db            *Database
	gormDB        *gorm.DB
	shares        *ledger.Ledger
	tokens        *token.Ledger
	engine        *valuation.Engine
	funds         *fund.Service
	feed          modules.PriceFeed
	participation modules.Participation
	events        *events.Recorder

	// LimitMissPolicy governs requests whose limit price is not met at
	// execution. Default is LimitMissRefund.
	LimitMissPolicy LimitMissPolicy
}

// NewService wires the request queue service.
func NewService(gormDB *gorm.DB, shares *ledger.Ledger, tokens *token.Ledger, engine *valuation.Engine, funds *fund.Service, feed modules.PriceFeed, participation modules.Participation, recorder *events.Recorder) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		gormDB:          gormDB,
		shares:          shares,
		tokens:          tokens,
		engine:          engine,
		funds:           funds,
		feed:            feed,
		participation:   participation,
		events:          recorder,
		LimitMissPolicy: LimitMissRefund,
	}
}

// RequestSubscription files a subscription request and locks the
// investor's collateral (offered value plus incentive) in fund custody
// immediately, before execution.
func (s *Service) RequestSubscription(owner string, shareQuantity, offeredValue, incentive decimal.Decimal) (*Request, error) {
	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	if f.ShutDown {
		return nil, ErrFundShutDown
	}
	if !f.SubscriptionsEnabled {
		return nil, ErrSubscriptionsClosed
	}
	if !incentive.IsPositive() {
		return nil, ErrZeroIncentive
	}
	if !shareQuantity.IsPositive() {
		return nil, ErrZeroShares
	}
	if !s.feed.IsRecent(f.ReferenceAsset) {
		return nil, ErrStalePrice
	}
	if !s.participation.IsSubscriptionPermitted(owner, shareQuantity, offeredValue) {
		return nil, ErrNotPermitted
	}

	// Collateral locks at request time.
	if err := s.tokens.Transfer(owner, f.CustodyAccount(), f.ReferenceAsset, offeredValue.Add(incentive)); err != nil {
		return nil, fmt.Errorf("locking collateral: %w", err)
	}

	request, err := s.appendRequest(owner, types.RequestTypeSubscribe, shareQuantity, offeredValue, decimal.Zero, incentive)
	if err != nil {
		return nil, err
	}
	s.events.Record(events.KindSubscribeRequested, request.RequestID, map[string]interface{}{
		"owner":          owner,
		"share_quantity": shareQuantity.String(),
		"offered_value":  offeredValue.String(),
		"incentive":      incentive.String(),
	})
	return request, nil
}

// RequestRedemption files a redemption request. No value moves
// upfront: the investor's shares are the collateral and stay with them
// until execution.
func (s *Service) RequestRedemption(owner string, shareQuantity, requestedValue, incentive decimal.Decimal) (*Request, error) {
	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	if f.ShutDown {
		return nil, ErrFundShutDown
	}
	if !f.RedemptionsEnabled {
		return nil, ErrRedemptionsClosed
	}
	if !shareQuantity.IsPositive() {
		return nil, ErrZeroShares
	}
	if !s.participation.IsRedemptionPermitted(owner, shareQuantity, requestedValue) {
		return nil, ErrNotPermitted
	}

	request, err := s.appendRequest(owner, types.RequestTypeRedeem, shareQuantity, decimal.Zero, requestedValue, incentive)
	if err != nil {
		return nil, err
	}
	s.events.Record(events.KindRedeemRequested, request.RequestID, map[string]interface{}{
		"owner":           owner,
		"share_quantity":  shareQuantity.String(),
		"requested_value": requestedValue.String(),
		"incentive":       incentive.String(),
	})
	return request, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(requestID string) (*Request, error) {
	request, err := s.db.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrRequestNotFound
	}
	return request, nil
}

// Eligible reports whether an open request has passed both freshness
// gates: the feed's minimum update interval elapsed and at least two
// feed updates since filing. One update is not enough; it could be the
// manipulated one.
func (s *Service) Eligible(request *Request) (bool, error) {
	if time.Since(request.CreatedAt) < s.feed.MinUpdateInterval() {
		return false, nil
	}
	lastUpdateID, err := s.feed.LastUpdateID()
	if err != nil {
		return false, err
	}
	return lastUpdateID >= request.FeedUpdateID+2, nil
}

// ExecuteRequest executes an open request on behalf of worker, who
// earns the incentive. Shares are minted or burned and internal state
// is settled before any value transfer leaves the fund.
func (s *Service) ExecuteRequest(requestID, worker string) (*ExecutionResult, error) {
	request, err := s.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != types.RequestStatusOpen {
		return nil, ErrRequestNotOpen
	}

	if time.Since(request.CreatedAt) < s.feed.MinUpdateInterval() {
		return nil, ErrCooldownNotElapsed
	}
	lastUpdateID, err := s.feed.LastUpdateID()
	if err != nil {
		return nil, err
	}
	if lastUpdateID < request.FeedUpdateID+2 {
		return nil, ErrFeedNotAdvanced
	}

	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	calc, err := s.engine.PerformCalculations()
	if err != nil {
		return nil, err
	}
	actualValue := types.MulDiv(request.ShareQuantity, calc.SharePrice, types.BaseUnits)

	logger := log.With().
		Str("request_id", request.RequestID).
		Str("type", string(request.Type)).
		Str("worker", worker).
		Str("share_price", calc.SharePrice.String()).
		Str("actual_value", actualValue.String()).
		Logger()

	// The status flip, share mutation and every transfer commit
	// together or not at all; a failed payout must not leave shares
	// burned or the request consumed.
	var result *ExecutionResult
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		switch request.Type {
		case types.RequestTypeSubscribe:
			result, txErr = s.executeSubscription(tx, f, request, worker, actualValue)
		case types.RequestTypeRedeem:
			result, txErr = s.executeRedemption(tx, f, request, worker, actualValue)
		default:
			txErr = fmt.Errorf("unknown request type %q", request.Type)
		}
		return txErr
	})
	if err != nil {
		logger.Error().Err(err).Msg("request execution failed")
		return nil, err
	}
	result.ActualValue = actualValue
	result.SharePrice = calc.SharePrice
	result.Worker = worker

	metrics.RequestsExecuted.WithLabelValues(string(request.Type), string(result.Outcome)).Inc()
	s.events.Record(events.KindRequestExecuted, request.RequestID, map[string]interface{}{
		"outcome":      string(result.Outcome),
		"actual_value": actualValue.String(),
		"share_price":  calc.SharePrice.String(),
		"worker":       worker,
	})
	logger.Info().Str("outcome", string(result.Outcome)).Msg("request executed")
	return result, nil
}

func (s *Service) executeSubscription(tx *gorm.DB, f *fund.Fund, request *Request, worker string, actualValue decimal.Decimal) (*ExecutionResult, error) {
	if request.OfferedValue.LessThan(actualValue) {
		return s.handleLimitMiss(tx, f, request)
	}

	request.Status = types.RequestStatusExecuted
	request.UpdatedAt = time.Now()
	if err := s.db.WithTx(tx).UpdateRequest(request); err != nil {
		return nil, err
	}
	if err := s.shares.WithTx(tx).CreateShares(request.Owner, request.ShareQuantity); err != nil {
		return nil, err
	}

	tokens := s.tokens.WithTx(tx)
	if err := tokens.Transfer(f.CustodyAccount(), worker, f.ReferenceAsset, request.Incentive); err != nil {
		return nil, fmt.Errorf("paying incentive: %w", err)
	}
	remainder := request.OfferedValue.Sub(actualValue)
	if remainder.IsPositive() {
		if err := tokens.Transfer(f.CustodyAccount(), request.Owner, f.ReferenceAsset, remainder); err != nil {
			return nil, fmt.Errorf("refunding remainder: %w", err)
		}
	}
	return &ExecutionResult{RequestID: request.RequestID, Outcome: OutcomeExecuted}, nil
}

func (s *Service) executeRedemption(tx *gorm.DB, f *fund.Fund, request *Request, worker string, actualValue decimal.Decimal) (*ExecutionResult, error) {
	if request.RequestedValue.GreaterThan(actualValue) {
		return s.handleLimitMiss(tx, f, request)
	}

	held, err := s.shares.BalanceOf(request.Owner)
	if err != nil {
		return nil, err
	}
	if held.LessThan(request.ShareQuantity) {
		return nil, ErrInsufficientShares
	}

	request.Status = types.RequestStatusExecuted
	request.UpdatedAt = time.Now()
	if err := s.db.WithTx(tx).UpdateRequest(request); err != nil {
		return nil, err
	}
	if err := s.shares.WithTx(tx).AnnihilateShares(request.Owner, request.ShareQuantity); err != nil {
		return nil, err
	}

	// A zero requested value is a valid accept-any-price limit; there
	// is nothing to pay out for it.
	tokens := s.tokens.WithTx(tx)
	if request.RequestedValue.IsPositive() {
		if err := tokens.Transfer(f.CustodyAccount(), request.Owner, f.ReferenceAsset, request.RequestedValue); err != nil {
			return nil, fmt.Errorf("paying redemption: %w", err)
		}
	}
	if request.Incentive.IsPositive() {
		if err := tokens.Transfer(request.Owner, worker, f.ReferenceAsset, request.Incentive); err != nil {
			return nil, fmt.Errorf("paying incentive: %w", err)
		}
	}
	return &ExecutionResult{RequestID: request.RequestID, Outcome: OutcomeExecuted}, nil
}

// handleLimitMiss applies the configured policy when the limit price
// is not satisfied at execution time.
func (s *Service) handleLimitMiss(tx *gorm.DB, f *fund.Fund, request *Request) (*ExecutionResult, error) {
	switch s.LimitMissPolicy {
	case LimitMissConsume:
		request.Status = types.RequestStatusExecuted
		request.UpdatedAt = time.Now()
		if err := s.db.WithTx(tx).UpdateRequest(request); err != nil {
			return nil, err
		}
		return &ExecutionResult{RequestID: request.RequestID, Outcome: OutcomeConsumed}, nil
	default:
		request.Status = types.RequestStatusCancelled
		request.UpdatedAt = time.Now()
		if err := s.db.WithTx(tx).UpdateRequest(request); err != nil {
			return nil, err
		}
		if request.Type == types.RequestTypeSubscribe {
			refund := request.OfferedValue.Add(request.Incentive)
			if err := s.tokens.WithTx(tx).Transfer(f.CustodyAccount(), request.Owner, f.ReferenceAsset, refund); err != nil {
				return nil, fmt.Errorf("refunding collateral: %w", err)
			}
		}
		return &ExecutionResult{RequestID: request.RequestID, Outcome: OutcomeRefunded}, nil
	}
}

// CancelRequest cancels an open request. Only the owner may cancel,
// except once the fund is shut down, when anyone may. Subscription
// collateral and incentive are returned.
func (s *Service) CancelRequest(requestID, caller string) error {
	request, err := s.GetRequest(requestID)
	if err != nil {
		return err
	}
	if request.Status != types.RequestStatusOpen {
		return ErrRequestNotOpen
	}
	f, err := s.funds.Get()
	if err != nil {
		return err
	}
	if caller != request.Owner && !f.ShutDown {
		return ErrNotRequestOwner
	}

	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		request.Status = types.RequestStatusCancelled
		request.UpdatedAt = time.Now()
		if err := s.db.WithTx(tx).UpdateRequest(request); err != nil {
			return err
		}
		if request.Type == types.RequestTypeSubscribe {
			refund := request.OfferedValue.Add(request.Incentive)
			if err := s.tokens.WithTx(tx).Transfer(f.CustodyAccount(), request.Owner, f.ReferenceAsset, refund); err != nil {
				return fmt.Errorf("refunding collateral: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Record(events.KindRequestCancelled, request.RequestID, map[string]interface{}{
		"caller": caller,
	})
	log.Info().Str("request_id", request.RequestID).Str("caller", caller).Msg("request cancelled")
	return nil
}

// RedeemSlice redeems shares as a pro-rata slice of every registered
// asset in custody rather than through the reference asset. It is the
// exit path that keeps working after shutdown and needs no price feed.
// Slices are cut from liquid custody only; quantities in flight on an
// open make order stay with the fund until that order settles.
func (s *Service) RedeemSlice(owner string, shareQuantity decimal.Decimal) error {
	if !shareQuantity.IsPositive() {
		return ErrZeroShares
	}
	f, err := s.funds.Get()
	if err != nil {
		return err
	}
	supply, err := s.shares.TotalSupply()
	if err != nil {
		return err
	}
	if !supply.IsPositive() {
		return ErrInsufficientShares
	}
	held, err := s.shares.BalanceOf(owner)
	if err != nil {
		return err
	}
	if held.LessThan(shareQuantity) {
		return ErrInsufficientShares
	}

	// Compute each asset's slice against the pre-burn supply, burn,
	// then transfer.
	assets, err := s.feed.RegisteredAssets()
	if err != nil {
		return err
	}
	slices := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		custody, err := s.tokens.BalanceOf(f.CustodyAccount(), asset)
		if err != nil {
			return err
		}
		if custody.IsPositive() {
			slices[asset] = types.MulDiv(custody, shareQuantity, supply)
		}
	}

	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := s.shares.WithTx(tx).AnnihilateShares(owner, shareQuantity); err != nil {
			return err
		}
		tokens := s.tokens.WithTx(tx)
		for _, asset := range assets {
			slice, ok := slices[asset]
			if !ok || !slice.IsPositive() {
				continue
			}
			if err := tokens.Transfer(f.CustodyAccount(), owner, asset, slice); err != nil {
				return fmt.Errorf("transferring %s slice: %w", asset, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Record(events.KindRequestExecuted, "", map[string]interface{}{
		"owner":          owner,
		"share_quantity": shareQuantity.String(),
		"kind":           "SLICE_REDEMPTION",
	})
	log.Info().Str("owner", owner).Str("share_quantity", shareQuantity.String()).Msg("slice redemption executed")
	return nil
}

func (s *Service) appendRequest(owner string, requestType types.RequestType, shareQuantity, offeredValue, requestedValue, incentive decimal.Decimal) (*Request, error) {
	feedUpdateID, err := s.feed.LastUpdateID()
	if err != nil {
		return nil, err
	}
	feedUpdateTime, err := s.feed.LastUpdateTime()
	if err != nil {
		return nil, err
	}
	request := &Request{
		RequestID:      "REQ_" + uuid.New().String(),
		Owner:          owner,
		Status:         types.RequestStatusOpen,
		Type:           requestType,
		ShareQuantity:  shareQuantity,
		OfferedValue:   offeredValue,
		RequestedValue: requestedValue,
		Incentive:      incentive,
		FeedUpdateID:   feedUpdateID,
		FeedUpdateTime: feedUpdateTime,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.CreateRequest(request); err != nil {
		return nil, err
	}
	return request, nil
}
