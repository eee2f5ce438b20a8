package requests

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openvault/fund-api/pkg/response"
)

// GinHandlers contains HTTP handlers for the request queue.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the request queue handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type subscribeBody struct {
	ShareQuantity decimal.Decimal `json:"share_quantity" binding:"required"`
	OfferedValue  decimal.Decimal `json:"offered_value" binding:"required"`
	Incentive     decimal.Decimal `json:"incentive" binding:"required"`
}

// Zero is a meaningful value for both optional fields here: a zero
// requested value is an accept-any-price limit and a zero incentive
// means the owner will execute the request themselves.
type redeemBody struct {
	ShareQuantity  decimal.Decimal `json:"share_quantity" binding:"required"`
	RequestedValue decimal.Decimal `json:"requested_value"`
	Incentive      decimal.Decimal `json:"incentive"`
}

type sliceRedeemBody struct {
	ShareQuantity decimal.Decimal `json:"share_quantity" binding:"required"`
}

// SubscribeHandler handles POST requests to file subscription
// requests. The authenticated client is the request owner.
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		if owner == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}
		var body subscribeBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		request, err := h.service.RequestSubscription(owner, body.ShareQuantity, body.OfferedValue, body.Incentive)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, request)
	}
}

// RedeemHandler handles POST requests to file redemption requests.
func (h *GinHandlers) RedeemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		if owner == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}
		var body redeemBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		request, err := h.service.RequestRedemption(owner, body.ShareQuantity, body.RequestedValue, body.Incentive)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, request)
	}
}

// GetRequestHandler handles GET requests for a single request. Owners
// only see their own requests.
func (h *GinHandlers) GetRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		requestID := c.Param("request_id")
		if requestID == "" {
			response.BadRequest(c, "Request ID is required")
			return
		}
		request, err := h.service.db.GetRequestByIDAndOwner(requestID, owner)
		if err != nil || request == nil {
			response.NotFound(c, "Request not found")
			return
		}
		response.Success(c, request)
	}
}

// CancelRequestHandler handles POST requests to cancel an open
// request.
func (h *GinHandlers) CancelRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("clientID")
		requestID := c.Param("request_id")
		if err := h.service.CancelRequest(requestID, caller); err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, gin.H{"request_id": requestID, "status": "CANCELLED"})
	}
}

// ExecuteRequestHandler handles POST requests to execute an eligible
// request. The authenticated caller is the worker earning the
// incentive.
func (h *GinHandlers) ExecuteRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		worker := c.GetString("clientID")
		if worker == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}
		requestID := c.Param("request_id")
		result, err := h.service.ExecuteRequest(requestID, worker)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, result)
	}
}

// SliceRedeemHandler handles POST requests for pro-rata slice
// redemption, the emergency exit path.
func (h *GinHandlers) SliceRedeemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		if owner == "" {
			response.Unauthorized(c, "Missing client identity")
			return
		}
		var body sliceRedeemBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.service.RedeemSlice(owner, body.ShareQuantity); err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, gin.H{"owner": owner, "share_quantity": body.ShareQuantity})
	}
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotRequestOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrFundShutDown),
		errors.Is(err, ErrSubscriptionsClosed),
		errors.Is(err, ErrRedemptionsClosed),
		errors.Is(err, ErrZeroIncentive),
		errors.Is(err, ErrZeroShares),
		errors.Is(err, ErrStalePrice),
		errors.Is(err, ErrNotPermitted),
		errors.Is(err, ErrRequestNotOpen),
		errors.Is(err, ErrCooldownNotElapsed),
		errors.Is(err, ErrFeedNotAdvanced),
		errors.Is(err, ErrInsufficientShares):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
