package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/listener"
	"clicktrail/api/tracker"
)

// HealthCheck reports liveness along with the tracking state.
func HealthCheck(t *tracker.Tracker, tabs *listener.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"tracking_enabled": t.Enabled(),
			"active_tabs":      tabs.Len(),
		})
	}
}
