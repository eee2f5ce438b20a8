package trading

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/pkg/response"
)

// GinHandlers contains HTTP handlers for manager trading endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the trading handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type makeOrderBody struct {
	SellAsset    string          `json:"sell_asset" binding:"required"`
	BuyAsset     string          `json:"buy_asset" binding:"required"`
	SellQuantity decimal.Decimal `json:"sell_quantity" binding:"required"`
	BuyQuantity  decimal.Decimal `json:"buy_quantity" binding:"required"`
}

type takeOrderBody struct {
	ExchangeOrderID string          `json:"exchange_order_id" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity" binding:"required"`
}

type settlementBody struct {
	SellAsset string `json:"sell_asset" binding:"required"`
	BuyAsset  string `json:"buy_asset" binding:"required"`
}

// MakeOrderHandler handles POST requests to place make orders. Soft
// failures come back in a success envelope with the numeric code.
func (h *GinHandlers) MakeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("clientID")
		var body makeOrderBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		result, err := h.service.MakeOrder(caller, body.SellAsset, body.BuyAsset, body.SellQuantity, body.BuyQuantity)
		if err != nil {
			respondTradingError(c, err)
			return
		}
		response.Success(c, result)
	}
}

// TakeOrderHandler handles POST requests to take exchange orders.
func (h *GinHandlers) TakeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("clientID")
		var body takeOrderBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		result, err := h.service.TakeOrder(caller, body.ExchangeOrderID, body.Quantity)
		if err != nil {
			respondTradingError(c, err)
			return
		}
		response.Success(c, result)
	}
}

// CancelOrderHandler handles POST requests to cancel open make
// orders.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("clientID")
		orderID := c.Param("order_id")
		if err := h.service.CancelOrder(caller, orderID); err != nil {
			respondTradingError(c, err)
			return
		}
		response.Success(c, gin.H{"order_id": orderID, "status": "CANCELLED"})
	}
}

// SettlementHandler handles POST requests to manually settle the
// outstanding make order on a pair.
func (h *GinHandlers) SettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body settlementBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		report, err := h.service.ManualSettlement(body.SellAsset, body.BuyAsset)
		if err != nil {
			respondTradingError(c, err)
			return
		}
		response.Success(c, report)
	}
}

// GetOrderHandler handles GET requests for a single order log entry.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		order, err := h.service.GetOrder(orderID)
		if err != nil {
			respondTradingError(c, err)
			return
		}
		response.Success(c, order)
	}
}

func respondTradingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotManager):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrFundShutDown),
		errors.Is(err, ErrBadQuantity),
		errors.Is(err, ErrNotMakeOrder),
		errors.Is(err, accounting.ErrNoOpenMakeOrder):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
