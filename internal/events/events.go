// Package events is the append-only fund event log for off-chain
// observers: request lifecycle, order lifecycle, reward conversions,
// calculation updates and soft trading error codes.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

// Event kinds.
const (
	KindSubscribeRequested = "SUBSCRIBE_REQUESTED"
	KindRedeemRequested    = "REDEEM_REQUESTED"
	KindRequestExecuted    = "REQUEST_EXECUTED"
	KindRequestCancelled   = "REQUEST_CANCELLED"
	KindOrderPlaced        = "ORDER_PLACED"
	KindOrderUpdated       = "ORDER_UPDATED"
	KindOrderCancelled     = "ORDER_CANCELLED"
	KindRewardsConverted   = "REWARDS_CONVERTED"
	KindCalculation        = "CALCULATION"
	KindSettlement         = "SETTLEMENT"
	KindShutdown           = "SHUTDOWN"
	KindTradingError       = "TRADING_ERROR"
)

// FundEvent is one append-only log entry. Payload is a JSON object of
// kind-specific fields.
type FundEvent struct {
	gorm.Model `json:"-"`
	Kind       string    `gorm:"index" json:"kind"`
	ResourceID string    `gorm:"index" json:"resource_id"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder appends fund events.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder returns an event recorder over the given database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends one event. Recording never fails the surrounding
// operation; a write error is logged and swallowed.
func (r *Recorder) Record(kind, resourceID string, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("failed to encode event payload")
		raw = []byte("{}")
	}
	event := FundEvent{
		Kind:       kind,
		ResourceID: resourceID,
		Payload:    string(raw),
		CreatedAt:  time.Now(),
	}
	if err := r.db.Create(&event).Error; err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("failed to record event")
	}
}

// RecordTradingError appends a numeric soft-failure code, the
// no-revert error channel for trading operations.
func (r *Recorder) RecordTradingError(code types.ErrCode, resourceID string) {
	r.Record(KindTradingError, resourceID, map[string]interface{}{
		"code": int(code),
		"name": code.String(),
	})
}

// Recent returns up to limit most recent events, newest first.
func (r *Recorder) Recent(limit int) ([]FundEvent, error) {
	var rows []FundEvent
	if err := r.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
