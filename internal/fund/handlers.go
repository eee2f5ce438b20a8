package fund

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/openvault/fund-api/pkg/response"
)

// GinHandlers exposes fund administration endpoints.
type GinHandlers struct {
	funds *Service
}

func NewGinHandlers(funds *Service) *GinHandlers {
	return &GinHandlers{funds: funds}
}

// ToggleRequest is the payload for flipping an availability flag.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ToggleSubscriptionsHandler opens or closes new subscription
// requests.
func (h *GinHandlers) ToggleSubscriptionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.funds.ToggleSubscriptions(*req.Enabled); err != nil {
			h.respondToggleError(c, err)
			return
		}
		response.Success(c, gin.H{"subscriptions_enabled": *req.Enabled})
	}
}

// ToggleRedemptionsHandler opens or closes new redemption requests.
func (h *GinHandlers) ToggleRedemptionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.funds.ToggleRedemptions(*req.Enabled); err != nil {
			h.respondToggleError(c, err)
			return
		}
		response.Success(c, gin.H{"redemptions_enabled": *req.Enabled})
	}
}

func (h *GinHandlers) respondToggleError(c *gin.Context, err error) {
	if errors.Is(err, ErrFundNotFound) {
		response.NotFound(c, "Fund not found")
		return
	}
	response.InternalError(c, "Failed to update fund")
}
