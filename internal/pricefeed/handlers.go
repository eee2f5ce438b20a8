package pricefeed

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openvault/fund-api/pkg/response"
)

// GinHandlers exposes feed administration endpoints.
type GinHandlers struct {
	feed *Feed
}

func NewGinHandlers(feed *Feed) *GinHandlers {
	return &GinHandlers{feed: feed}
}

// RegisterAssetRequest is the payload for asset registration.
type RegisterAssetRequest struct {
	Asset    string `json:"asset" binding:"required"`
	Decimals int32  `json:"decimals" binding:"required"`
}

// RegisterAssetHandler adds an asset to the feed universe.
func (h *GinHandlers) RegisterAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterAssetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.feed.RegisterAsset(req.Asset, req.Decimals); err != nil {
			response.InternalError(c, "Failed to register asset")
			return
		}
		response.Success(c, gin.H{"asset": req.Asset, "decimals": req.Decimals})
	}
}

// PublishUpdateRequest is a batch of prices, keyed by asset, in
// reference-asset base units per whole unit.
type PublishUpdateRequest struct {
	Prices map[string]decimal.Decimal `json:"prices" binding:"required"`
}

// PublishUpdateHandler applies a price update and advances the feed
// update id.
func (h *GinHandlers) PublishUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PublishUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.feed.PublishUpdate(req.Prices); err != nil {
			if errors.Is(err, ErrUnknownAsset) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, "Failed to publish update")
			return
		}
		updateID, err := h.feed.LastUpdateID()
		if err != nil {
			response.InternalError(c, "Failed to read feed state")
			return
		}
		response.Success(c, gin.H{"update_id": updateID})
	}
}
