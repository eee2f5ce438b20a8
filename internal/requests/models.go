package requests

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

// Request is one queued subscription or redemption. It is created
// open, transitions exactly once to executed or cancelled, and is
// immutable thereafter.
type Request struct {
	gorm.Model     `json:"-"`
	RequestID      string              `gorm:"uniqueIndex" json:"request_id"`
	Owner          string              `json:"owner"`
	Status         types.RequestStatus `json:"status"`
	Type           types.RequestType   `json:"type"`
	ShareQuantity  decimal.Decimal     `json:"share_quantity"`
	OfferedValue   decimal.Decimal     `json:"offered_value"`
	RequestedValue decimal.Decimal     `json:"requested_value"`
	Incentive      decimal.Decimal     `json:"incentive"`
	// Feed state snapshotted at request time; execution requires the
	// feed to have advanced at least two updates past this.
	FeedUpdateID   int64     `json:"feed_update_id"`
	FeedUpdateTime time.Time `json:"feed_update_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExecutionOutcome describes what an execution attempt did.
type ExecutionOutcome string

const (
	OutcomeExecuted ExecutionOutcome = "EXECUTED"
	OutcomeRefunded ExecutionOutcome = "REFUNDED" // limit missed, refund policy
	OutcomeConsumed ExecutionOutcome = "CONSUMED" // limit missed, legacy policy
)

// ExecutionResult is returned by ExecuteRequest.
type ExecutionResult struct {
	RequestID   string           `json:"request_id"`
	Outcome     ExecutionOutcome `json:"outcome"`
	ActualValue decimal.Decimal  `json:"actual_value"`
	SharePrice  decimal.Decimal  `json:"share_price"`
	Worker      string           `json:"worker"`
}

// LimitMissPolicy selects what happens when a request's limit price is
// not satisfied at execution time.
type LimitMissPolicy string

const (
	// LimitMissRefund cancels the request and returns collateral and
	// incentive to the investor.
	LimitMissRefund LimitMissPolicy = "REFUND"
	// LimitMissConsume marks the request executed with no transfers,
	// reproducing the legacy silent no-op.
	LimitMissConsume LimitMissPolicy = "CONSUME"
)
