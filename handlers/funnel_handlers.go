package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/funnel"
	"clicktrail/api/middleware"
)

type FunnelHandlers struct {
	Funnels *funnel.Service
}

func NewFunnelHandlers(s *funnel.Service) *FunnelHandlers {
	return &FunnelHandlers{Funnels: s}
}

// funnelError maps service errors to responses. Rejected steps never touch
// stored progress.
func funnelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, funnel.ErrUnknownFunnel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, funnel.ErrUnknownStep), errors.Is(err, funnel.ErrNoUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record funnel event"})
	}
}

type stepRequest struct {
	Step       string         `json:"step" binding:"required"`
	Properties map[string]any `json:"properties"`
}

func (h *FunnelHandlers) TrackStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	name, userID := c.Param("name"), middleware.UserID(c)
	if err := h.Funnels.TrackStep(ctx, name, req.Step, userID, req.Properties); err != nil {
		funnelError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"funnel": name, "steps": h.Funnels.Progress(ctx, name, userID)})
}

func (h *FunnelHandlers) GetProgress(c *gin.Context) {
	name := c.Param("name")
	steps, ok := funnel.Funnels[name]
	if !ok {
		funnelError(c, funnel.ErrUnknownFunnel)
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	progress := h.Funnels.Progress(ctx, name, middleware.UserID(c))
	c.JSON(http.StatusOK, gin.H{
		"funnel":      name,
		"steps":       progress,
		"total_steps": len(steps),
	})
}

func (h *FunnelHandlers) Complete(c *gin.Context) {
	var req struct {
		Properties map[string]any `json:"properties"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	if err := h.Funnels.TrackCompletion(ctx, c.Param("name"), middleware.UserID(c), req.Properties); err != nil {
		funnelError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type dropoffRequest struct {
	Step   string `json:"step" binding:"required"`
	Reason string `json:"reason"`
}

func (h *FunnelHandlers) Dropoff(c *gin.Context) {
	var req dropoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	if err := h.Funnels.TrackDropoff(ctx, c.Param("name"), req.Step, middleware.UserID(c), req.Reason); err != nil {
		funnelError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *FunnelHandlers) Reset(c *gin.Context) {
	name := c.Param("name")
	if _, ok := funnel.Funnels[name]; !ok {
		funnelError(c, funnel.ErrUnknownFunnel)
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Funnels.Reset(ctx, name, middleware.UserID(c))
	c.Status(http.StatusNoContent)
}
