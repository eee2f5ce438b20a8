package valuation

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/pkg/response"
)

// GinHandlers exposes the fund status and reward endpoints.
type GinHandlers struct {
	engine *Engine
	funds  *fund.Service
	events *events.Recorder
}

// NewGinHandlers creates handlers over the valuation engine.
func NewGinHandlers(engine *Engine, funds *fund.Service, recorder *events.Recorder) *GinHandlers {
	return &GinHandlers{engine: engine, funds: funds, events: recorder}
}

// FundStatusHandler returns the fund record together with a fresh
// valuation pass.
func (h *GinHandlers) FundStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := h.funds.Get()
		if err != nil {
			if errors.Is(err, fund.ErrFundNotFound) {
				response.NotFound(c, "Fund not found")
				return
			}
			response.InternalError(c, "Failed to load fund")
			return
		}
		result, err := h.engine.PerformCalculations()
		if err != nil {
			response.InternalError(c, "Failed to value fund")
			return
		}
		response.Success(c, gin.H{
			"fund":      f,
			"valuation": result,
		})
	}
}

// CalculationsHandler returns the latest reward checkpoint.
func (h *GinHandlers) CalculationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checkpoint, err := h.engine.Checkpoint()
		if err != nil {
			if errors.Is(err, ErrNoCheckpoint) {
				response.NotFound(c, "No checkpoint recorded")
				return
			}
			response.InternalError(c, "Failed to load checkpoint")
			return
		}
		response.Success(c, checkpoint)
	}
}

// ConvertRewardsHandler mints accrued manager rewards as shares.
// Manager only.
func (h *GinHandlers) ConvertRewardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("clientID")
		checkpoint, err := h.engine.ConvertUnclaimedRewards(caller)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotManager):
				response.Forbidden(c, "Only the fund manager can convert rewards")
			case errors.Is(err, ErrFundShutDown):
				response.ShutDown(c, "Fund is shut down")
			case errors.Is(err, ErrOpenMakeOrders):
				response.BadRequest(c, "Open make orders outstanding")
			case errors.Is(err, ErrZeroGav):
				response.BadRequest(c, "Fund holds no valued assets")
			default:
				response.InternalError(c, "Failed to convert rewards")
			}
			return
		}
		response.Success(c, checkpoint)
	}
}

// EventsHandler returns the most recent fund events.
func (h *GinHandlers) EventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recent, err := h.events.Recent(100)
		if err != nil {
			response.InternalError(c, "Failed to load events")
			return
		}
		response.Success(c, recent)
	}
}
