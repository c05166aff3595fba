package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/middleware"
	"clicktrail/api/revenue"
)

type RevenueHandlers struct {
	Revenue *revenue.Service
}

func NewRevenueHandlers(s *revenue.Service) *RevenueHandlers {
	return &RevenueHandlers{Revenue: s}
}

func revenueResult(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, revenue.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record revenue event"})
	}
}

func (h *RevenueHandlers) Purchase(c *gin.Context) {
	var p revenue.Purchase
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()
	revenueResult(c, h.Revenue.TrackPurchase(ctx, middleware.UserID(c), p))
}

func (h *RevenueHandlers) Subscription(c *gin.Context) {
	var s revenue.Subscription
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()
	revenueResult(c, h.Revenue.TrackSubscription(ctx, middleware.UserID(c), s))
}

func (h *RevenueHandlers) Refund(c *gin.Context) {
	var r revenue.Refund
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()
	revenueResult(c, h.Revenue.TrackRefund(ctx, middleware.UserID(c), r))
}
