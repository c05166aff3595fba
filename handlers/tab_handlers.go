package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/listener"
	"clicktrail/api/models"
	"clicktrail/api/tracker"
)

// TabHandlers receives browser beacons. Responses never carry tracking
// failures; a beacon only fails on a malformed body.
type TabHandlers struct {
	Tabs   *listener.Manager
	logger *slog.Logger
}

func NewTabHandlers(m *listener.Manager, logger *slog.Logger) *TabHandlers {
	return &TabHandlers{Tabs: m, logger: logger}
}

func (h *TabHandlers) PostEvents(c *gin.Context) {
	tabID := c.Param("tabId")
	var batch models.InteractionBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		h.logger.Debug("rejecting malformed beacon", "tab_id", tabID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := trackingContext(c, tabID)
	defer cancel()
	cc, _ := tracker.ClientFrom(ctx)
	batch.Client = mergeClient(batch.Client, cc.Client)

	applied, err := h.Tabs.Handle(ctx, batch)
	if err != nil {
		h.logger.Warn("beacon partially applied", "tab_id", tabID, "applied", applied, "error", err)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": applied})
}

func (h *TabHandlers) Unload(c *gin.Context) {
	tabID := c.Param("tabId")
	ctx, cancel := trackingContext(c, tabID)
	defer cancel()

	if !h.Tabs.Unload(ctx, tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown tab"})
		return
	}
	c.Status(http.StatusNoContent)
}
