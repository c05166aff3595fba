package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/middleware"
	"clicktrail/api/tracker"
)

// ProfileHandlers covers the user profile and session replay controls.
type ProfileHandlers struct {
	Tracker *tracker.Tracker
}

func NewProfileHandlers(t *tracker.Tracker) *ProfileHandlers {
	return &ProfileHandlers{Tracker: t}
}

func (h *ProfileHandlers) GetProfile(c *gin.Context) {
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"user_id":          middleware.UserID(c),
		"user_email":       c.GetString(middleware.ContextUserEmail),
		"ip_address":       c.ClientIP(),
		"super_properties": h.Tracker.SuperProperties(ctx),
	})
}

func (h *ProfileHandlers) SetProfile(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	var props map[string]any
	if err := c.ShouldBindJSON(&props); err != nil || len(props) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Tracker.SetUserProfile(ctx, userID, props)
	c.Status(http.StatusNoContent)
}

type incrementRequest struct {
	Property string   `json:"property" binding:"required"`
	Delta    *float64 `json:"delta"`
}

func (h *ProfileHandlers) Increment(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	var req incrementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property is required"})
		return
	}
	delta := 1.0
	if req.Delta != nil {
		delta = *req.Delta
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Tracker.IncrementUserProperty(ctx, userID, req.Property, delta)
	c.Status(http.StatusNoContent)
}

func (h *ProfileHandlers) StartRecording(c *gin.Context) {
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Tracker.StartSessionRecording(ctx)
	c.JSON(http.StatusOK, gin.H{
		"recording":  h.Tracker.IsRecording(ctx),
		"replay_url": h.Tracker.SessionReplayURL(ctx),
	})
}

func (h *ProfileHandlers) StopRecording(c *gin.Context) {
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Tracker.StopSessionRecording(ctx)
	c.JSON(http.StatusOK, gin.H{"recording": false})
}

// ConditionalRecording starts replay only for an allow-listed reason.
func (h *ProfileHandlers) ConditionalRecording(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	started := h.Tracker.StartConditionalRecording(ctx, req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"started":    started,
		"replay_url": h.Tracker.SessionReplayURL(ctx),
	})
}
