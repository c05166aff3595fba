package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clicktrail/api/experiment"
	"clicktrail/api/middleware"
)

type ExperimentHandlers struct {
	Experiments *experiment.Service
}

func NewExperimentHandlers(s *experiment.Service) *ExperimentHandlers {
	return &ExperimentHandlers{Experiments: s}
}

func (h *ExperimentHandlers) GetVariant(c *gin.Context) {
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	name := c.Param("name")
	userID := middleware.UserID(c)
	c.JSON(http.StatusOK, gin.H{
		"experiment": name,
		"user_id":    userID,
		"variant":    h.Experiments.GetVariant(ctx, name, userID),
	})
}

type conversionRequest struct {
	Metric string  `json:"metric" binding:"required"`
	Value  float64 `json:"value"`
}

func (h *ExperimentHandlers) TrackConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metric is required"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Experiments.TrackConversion(ctx, c.Param("name"), middleware.UserID(c), req.Metric, req.Value)
	c.Status(http.StatusAccepted)
}

// GetFlag evaluates a feature flag; ?default= sets the fallback for unknown
// flags and anonymous callers.
func (h *ExperimentHandlers) GetFlag(c *gin.Context) {
	def := false
	if v := c.Query("default"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'default' parameter. Must be true or false."})
			return
		}
		def = parsed
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"feature": name,
		"enabled": h.Experiments.IsFeatureEnabled(ctx, name, middleware.UserID(c), def),
	})
}
