// Package trading places the manager's orders on external exchanges
// through the adapter, keeps the order log, and reconciles settled
// make orders against actual custody. Hard preconditions abort the
// operation; trading-specific failures degrade to numeric error codes
// so a batch of order attempts is not killed by one bad pair.
package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/metrics"
	"github.com/openvault/fund-api/internal/modules"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/types"
)

var (
	ErrNotManager    = errors.New("caller is not the fund manager")
	ErrFundShutDown  = errors.New("fund is shut down")
	ErrBadQuantity   = errors.New("quantities must be positive")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotMakeOrder  = errors.New("order is not an open make order")
)

// Service handles order placement and settlement.
type Service struct {
	db              *Database
	books           *accounting.Books
	tokens          *token.Ledger
	funds           *fund.Service
	feed            modules.PriceFeed
	risk            modules.RiskManagement
	adapter         modules.ExchangeAdapter
	events          *events.Recorder
	exchangeAccount string // spender the fund approves for escrow pulls
}

// NewService wires the trading service. exchangeAccount is the
// token-ledger identity the exchange pulls approvals as.
func NewService(gormDB *gorm.DB, books *accounting.Books, tokens *token.Ledger, funds *fund.Service, feed modules.PriceFeed, risk modules.RiskManagement, adapter modules.ExchangeAdapter, recorder *events.Recorder, exchangeAccount string) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		books:           books,
		tokens:          tokens,
		funds:           funds,
		feed:            feed,
		risk:            risk,
		adapter:         adapter,
		events:          recorder,
		exchangeAccount: exchangeAccount,
	}
}

// MakeOrder places a resting order selling sellQuantity of sellAsset
// for buyQuantity of buyAsset. One outstanding make order per pair.
func (s *Service) MakeOrder(caller, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) (*OrderResult, error) {
	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	if caller != f.Manager {
		return nil, ErrNotManager
	}
	if f.ShutDown {
		return nil, ErrFundShutDown
	}
	if !sellQuantity.IsPositive() || !buyQuantity.IsPositive() {
		return nil, ErrBadQuantity
	}

	logger := log.With().
		Str("service", "trading").
		Str("pair", types.PairKey(sellAsset, buyAsset)).
		Str("sell_quantity", sellQuantity.String()).
		Logger()

	open, _, err := s.books.OpenMakeOrder(sellAsset, buyAsset)
	if err != nil {
		return nil, err
	}
	if open {
		return s.softFail(logger, types.ErrCodeExistingMakeOrder, "")
	}
	if !s.feed.ExistsPriceOnPair(sellAsset, buyAsset) {
		return s.softFail(logger, types.ErrCodeMissingPriceData, "")
	}
	orderPrice, referencePrice, err := s.feed.OrderPriceInfo(sellAsset, buyAsset, sellQuantity, buyQuantity)
	if err != nil {
		return s.softFail(logger, types.ErrCodeMissingPriceData, "")
	}
	if !s.risk.IsMakePermitted(orderPrice, referencePrice, sellAsset, buyAsset, sellQuantity, buyQuantity) {
		return s.softFail(logger, types.ErrCodeRiskRejected, "")
	}

	// Custody snapshots taken before the exchange pulls anything.
	custodySell, err := s.tokens.BalanceOf(f.CustodyAccount(), sellAsset)
	if err != nil {
		return nil, err
	}
	custodyBuy, err := s.tokens.BalanceOf(f.CustodyAccount(), buyAsset)
	if err != nil {
		return nil, err
	}
	if custodySell.LessThan(sellQuantity) {
		return s.softFail(logger, types.ErrCodeApproveFailed, "")
	}
	if err := s.tokens.Approve(f.CustodyAccount(), s.exchangeAccount, sellAsset, sellQuantity); err != nil {
		return s.softFail(logger, types.ErrCodeApproveFailed, "")
	}

	exchangeOrderID, err := s.adapter.MakeOrder(sellAsset, buyAsset, sellQuantity, buyQuantity)
	if err != nil {
		return nil, fmt.Errorf("placing make order: %w", err)
	}
	if exchangeOrderID == "" {
		return s.softFail(logger, types.ErrCodeExchangeRejected, "")
	}

	if err := s.books.RecordMakeOrder(sellAsset, buyAsset, exchangeOrderID, sellQuantity, buyQuantity, custodySell, custodyBuy); err != nil {
		return nil, err
	}
	order := &Order{
		OrderID:         "ORD_" + uuid.New().String(),
		ExchangeOrderID: exchangeOrderID,
		SellAsset:       sellAsset,
		BuyAsset:        buyAsset,
		SellQuantity:    sellQuantity,
		BuyQuantity:     buyQuantity,
		Status:          types.OrderStatusOpen,
		Type:            types.OrderTypeMake,
		FillQuantity:    decimal.Zero,
		CreatedAt:       time.Now(),
	}
	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(types.OrderTypeMake)).Inc()
	s.events.Record(events.KindOrderPlaced, order.OrderID, map[string]interface{}{
		"exchange_order_id": exchangeOrderID,
		"pair":              types.PairKey(sellAsset, buyAsset),
		"sell_quantity":     sellQuantity.String(),
		"buy_quantity":      buyQuantity.String(),
		"type":              string(types.OrderTypeMake),
	})
	logger.Info().Str("order_id", order.OrderID).Msg("make order placed")
	return &OrderResult{Order: order}, nil
}

// TakeOrder fills quantity of an existing exchange order's sell leg
// for the fund.
func (s *Service) TakeOrder(caller, exchangeOrderID string, quantity decimal.Decimal) (*OrderResult, error) {
	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	if caller != f.Manager {
		return nil, ErrNotManager
	}
	if f.ShutDown {
		return nil, ErrFundShutDown
	}
	if !quantity.IsPositive() {
		return nil, ErrBadQuantity
	}

	logger := log.With().
		Str("service", "trading").
		Str("exchange_order_id", exchangeOrderID).
		Str("quantity", quantity.String()).
		Logger()

	sellAsset, buyAsset, availableSell, availableBuy, err := s.adapter.GetOrder(exchangeOrderID)
	if err != nil {
		return s.softFail(logger, types.ErrCodeExchangeRejected, "")
	}
	if quantity.GreaterThan(availableSell) {
		return s.softFail(logger, types.ErrCodeQuantityExceedsOrder, "")
	}
	if !s.feed.ExistsPriceOnPair(sellAsset, buyAsset) {
		return s.softFail(logger, types.ErrCodeMissingPriceData, "")
	}
	orderPrice, referencePrice, err := s.feed.OrderPriceInfo(sellAsset, buyAsset, availableSell, availableBuy)
	if err != nil {
		return s.softFail(logger, types.ErrCodeMissingPriceData, "")
	}
	if !s.risk.IsTakePermitted(orderPrice, referencePrice, sellAsset, buyAsset, availableSell, availableBuy) {
		return s.softFail(logger, types.ErrCodeRiskRejected, "")
	}

	// The fund pays the buy leg pro rata for the quantity taken.
	payment := types.MulDiv(availableBuy, quantity, availableSell)
	if err := s.tokens.Approve(f.CustodyAccount(), s.exchangeAccount, buyAsset, payment); err != nil {
		return s.softFail(logger, types.ErrCodeApproveFailed, "")
	}
	filled, err := s.adapter.TakeOrder(exchangeOrderID, quantity)
	if err != nil {
		return nil, fmt.Errorf("taking order: %w", err)
	}
	if !filled {
		return s.softFail(logger, types.ErrCodeFillFailed, "")
	}

	order := &Order{
		OrderID:         "ORD_" + uuid.New().String(),
		ExchangeOrderID: exchangeOrderID,
		SellAsset:       sellAsset,
		BuyAsset:        buyAsset,
		SellQuantity:    quantity,
		BuyQuantity:     payment,
		Status:          types.OrderStatusFullyFilled,
		Type:            types.OrderTypeTake,
		FillQuantity:    quantity,
		CreatedAt:       time.Now(),
	}
	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(types.OrderTypeTake)).Inc()
	s.events.Record(events.KindOrderPlaced, order.OrderID, map[string]interface{}{
		"exchange_order_id": exchangeOrderID,
		"pair":              types.PairKey(sellAsset, buyAsset),
		"fill_quantity":     quantity.String(),
		"payment":           payment.String(),
		"type":              string(types.OrderTypeTake),
	})
	logger.Info().Str("order_id", order.OrderID).Msg("take order filled")
	return &OrderResult{Order: order}, nil
}

// CancelOrder cancels an open make order, unwinding the in-flight
// counters symmetrically with placement. The manager may cancel any
// time; once the fund is shut down, anyone may.
func (s *Service) CancelOrder(caller, orderID string) error {
	f, err := s.funds.Get()
	if err != nil {
		return err
	}
	if caller != f.Manager && !f.ShutDown {
		return ErrNotManager
	}
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Type != types.OrderTypeMake || order.Status != types.OrderStatusOpen {
		return ErrNotMakeOrder
	}

	cancelled, err := s.adapter.CancelOrder(order.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("cancelling on exchange: %w", err)
	}
	if !cancelled {
		return ErrNotMakeOrder
	}
	if err := s.books.ReleaseMakeOrder(order.SellAsset, order.BuyAsset, order.SellQuantity, order.BuyQuantity); err != nil {
		return err
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	if err := s.db.UpdateOrder(order); err != nil {
		return err
	}

	s.events.Record(events.KindOrderCancelled, order.OrderID, map[string]interface{}{
		"exchange_order_id": order.ExchangeOrderID,
		"caller":            caller,
	})
	log.Info().Str("order_id", order.OrderID).Str("caller", caller).Msg("make order cancelled")
	return nil
}

// ManualSettlement reconciles the outstanding make order on the pair
// against actual custody. A shortfall against the pro-rata adjusted
// expectation is treated as proof of embezzlement and shuts the fund
// down.
func (s *Service) ManualSettlement(sellAsset, buyAsset string) (*SettlementReport, error) {
	f, err := s.funds.Get()
	if err != nil {
		return nil, err
	}
	open, exchangeOrderID, err := s.books.OpenMakeOrder(sellAsset, buyAsset)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, accounting.ErrNoOpenMakeOrder
	}

	custodySell, err := s.tokens.BalanceOf(f.CustodyAccount(), sellAsset)
	if err != nil {
		return nil, err
	}
	custodyBuy, err := s.tokens.BalanceOf(f.CustodyAccount(), buyAsset)
	if err != nil {
		return nil, err
	}

	result, err := s.books.Reconcile(sellAsset, buyAsset, custodySell, custodyBuy)
	if err != nil {
		return nil, err
	}

	report := &SettlementReport{
		Embezzled:       result.Embezzled,
		Factor:          result.Factor,
		RevisedExpected: result.RevisedExpected,
		ActualDebit:     result.ActualDebit,
	}
	order, err := s.db.GetOrderByExchangeID(exchangeOrderID)
	if err != nil {
		return nil, err
	}
	if order != nil {
		report.OrderID = order.OrderID
	}

	if result.Embezzled {
		metrics.Settlements.WithLabelValues("embezzled").Inc()
		metrics.ShutDown.Set(1)
		s.events.Record(events.KindShutdown, report.OrderID, map[string]interface{}{
			"reason":           "proof of embezzlement",
			"pair":             types.PairKey(sellAsset, buyAsset),
			"actual_debit":     result.ActualDebit.String(),
			"revised_expected": result.RevisedExpected.String(),
		})
		if err := s.funds.Shutdown("proof of embezzlement on " + types.PairKey(sellAsset, buyAsset)); err != nil {
			return nil, err
		}
		log.Error().
			Str("pair", types.PairKey(sellAsset, buyAsset)).
			Str("actual_debit", result.ActualDebit.String()).
			Str("revised_expected", result.RevisedExpected.String()).
			Msg("embezzlement detected, fund shut down")
		return report, nil
	}

	settledSellQuantity := decimal.Zero
	settledBuyQuantity := decimal.Zero
	if order != nil {
		settledSellQuantity = order.SellQuantity
		settledBuyQuantity = order.BuyQuantity
	} else {
		if settledSellQuantity, err = s.books.SentToExchange(sellAsset); err != nil {
			return nil, err
		}
		if settledBuyQuantity, err = s.books.ExpectedToReturn(buyAsset); err != nil {
			return nil, err
		}
	}
	if err := s.books.SettleMakeOrder(sellAsset, buyAsset, settledSellQuantity, settledBuyQuantity, result, custodySell, custodyBuy); err != nil {
		return nil, err
	}
	if order != nil {
		order.FillQuantity = result.ActualDebit
		if result.ActualDebit.Equal(order.SellQuantity) {
			order.Status = types.OrderStatusFullyFilled
		} else if result.ActualDebit.IsPositive() {
			order.Status = types.OrderStatusPartiallyFilled
		} else {
			order.Status = types.OrderStatusCancelled
		}
		order.UpdatedAt = time.Now()
		if err := s.db.UpdateOrder(order); err != nil {
			return nil, err
		}
		s.events.Record(events.KindOrderUpdated, order.OrderID, map[string]interface{}{
			"status":        string(order.Status),
			"fill_quantity": order.FillQuantity.String(),
		})
	}

	metrics.Settlements.WithLabelValues("clean").Inc()
	s.events.Record(events.KindSettlement, report.OrderID, map[string]interface{}{
		"pair":   types.PairKey(sellAsset, buyAsset),
		"factor": result.Factor.String(),
	})
	log.Info().
		Str("pair", types.PairKey(sellAsset, buyAsset)).
		Str("factor", result.Factor.String()).
		Msg("make order settled cleanly")
	return report, nil
}

// GetOrder returns an order log entry.
func (s *Service) GetOrder(orderID string) (*Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) softFail(logger zerolog.Logger, code types.ErrCode, resourceID string) (*OrderResult, error) {
	logger.Warn().Int("err_code", int(code)).Str("err_name", code.String()).Msg("trading operation soft-failed")
	metrics.TradingErrors.WithLabelValues(code.String()).Inc()
	s.events.RecordTradingError(code, resourceID)
	return &OrderResult{ErrCode: code, ErrName: code.String()}, nil
}
