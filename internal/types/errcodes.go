package types

// ErrCode is a numeric soft-failure code for trading operations.
// Unlike hard precondition failures, which abort the whole state
// transition, these are logged and returned to the caller with state
// left untouched, so a batch of order attempts does not die on the
// first bad pair.
type ErrCode int

const (
	ErrCodeNone ErrCode = iota
	ErrCodeExistingMakeOrder
	ErrCodeMissingPriceData
	ErrCodeRiskRejected
	ErrCodeApproveFailed
	ErrCodeExchangeRejected
	ErrCodeQuantityExceedsOrder
	ErrCodeFillFailed
)

var errCodeNames = map[ErrCode]string{
	ErrCodeNone:                 "NONE",
	ErrCodeExistingMakeOrder:    "EXISTING_MAKE_ORDER",
	ErrCodeMissingPriceData:     "MISSING_PRICE_DATA",
	ErrCodeRiskRejected:         "RISK_REJECTED",
	ErrCodeApproveFailed:        "APPROVE_FAILED",
	ErrCodeExchangeRejected:     "EXCHANGE_REJECTED",
	ErrCodeQuantityExceedsOrder: "QUANTITY_EXCEEDS_ORDER",
	ErrCodeFillFailed:           "FILL_FAILED",
}

func (c ErrCode) String() string {
	if name, ok := errCodeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}
