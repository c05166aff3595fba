// api/handlers/track_handlers.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/middleware"
	"clicktrail/api/models"
	"clicktrail/api/tracker"
)

type AnalyticsHandlers struct {
	Tracker *tracker.Tracker
	logger  *slog.Logger
}

func NewAnalyticsHandlers(t *tracker.Tracker, logger *slog.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{Tracker: t, logger: logger}
}

// TrackEvent accepts an array of events from the dashboard and forwards each
// through the tracker. Typed events go through their labelled wrappers;
// untyped ones are custom events. Rejected events do not fail the batch.
func (h *AnalyticsHandlers) TrackEvent(c *gin.Context) {
	var incoming []models.CustomEventRequest
	if err := c.ShouldBindJSON(&incoming); err != nil {
		h.logger.Info("error binding incoming analytics JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(incoming) == 0 {
		c.Status(http.StatusOK)
		return
	}

	ctx, cancel := trackingContext(c, "")
	defer cancel()

	userID := middleware.UserID(c)
	accepted, rejected := 0, 0
	for _, ev := range incoming {
		if err := h.dispatch(ctx, ev, userID); err != nil {
			h.logger.Debug("analytics event rejected", "type", ev.Type, "name", ev.Name, "error", err)
			rejected++
			continue
		}
		accepted++
	}

	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "rejected": rejected})
}

func (h *AnalyticsHandlers) dispatch(ctx context.Context, ev models.CustomEventRequest, userID string) error {
	t := h.Tracker
	if ev.Type == "" || ev.Type == models.EventCustom {
		return t.Emit(ctx, tracker.Custom{Name: ev.Name, Props: ev.Properties}, userID)
	}
	if !t.Enabled() {
		return fmt.Errorf("%s: tracking disabled", ev.Type)
	}

	p := ev.Properties
	switch ev.Type {
	case models.EventFeatureUsage:
		return send(ctx, p, t.TrackFeatureUsage)
	case models.EventError:
		return send(ctx, p, t.TrackError)
	case models.EventPerformance:
		return send(ctx, p, t.TrackPerformance)
	case models.EventSearch:
		return send(ctx, p, t.TrackSearch)
	case models.EventFilter:
		return send(ctx, p, t.TrackFilterUsage)
	case models.EventModal:
		return send(ctx, p, t.TrackModalInteraction)
	case models.EventNavigation:
		return send(ctx, p, t.TrackNavigation)
	case models.EventMarketing:
		return send(ctx, p, t.TrackMarketingData)
	case models.EventPageAnalytics:
		return send(ctx, p, t.TrackPageAnalytics)
	case models.EventButtonAnalytics:
		return send(ctx, p, t.TrackButtonAnalytics)
	case models.EventBusinessMetric:
		return send(ctx, p, func(ctx context.Context, e tracker.BusinessMetric) {
			t.TrackBusinessMetric(ctx, e, userID)
		})
	case models.EventSalesStage:
		return send(ctx, p, func(ctx context.Context, e tracker.SalesStage) {
			t.TrackSalesData(ctx, e, userID)
		})
	case models.EventAuth:
		return send(ctx, p, func(ctx context.Context, e tracker.AuthEvent) {
			t.TrackAuthEvent(ctx, e, userID)
			if e.Action == "logout" && e.Success {
				t.Reset(ctx)
			}
		})
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// send decodes props into E and hands it to track once it validates.
func send[E tracker.Event](ctx context.Context, props map[string]any, track func(context.Context, E)) error {
	var e E
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("decode %T: %w", e, err)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	track(ctx, e)
	return nil
}

// RegisterSuperProperties attaches properties to every later event of the
// caller's tab.
func (h *AnalyticsHandlers) RegisterSuperProperties(c *gin.Context) {
	var req models.SuperPropertiesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Properties) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "properties are required"})
		return
	}
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	if req.Once {
		h.Tracker.RegisterOnce(ctx, req.Properties)
	} else {
		h.Tracker.Register(ctx, req.Properties)
	}
	c.JSON(http.StatusOK, gin.H{"super_properties": h.Tracker.SuperProperties(ctx)})
}

func (h *AnalyticsHandlers) UnregisterSuperProperty(c *gin.Context) {
	ctx, cancel := trackingContext(c, "")
	defer cancel()

	h.Tracker.Unregister(ctx, c.Param("name"))
	c.Status(http.StatusNoContent)
}

// SetTracking toggles tracking at runtime, the server-side counterpart of
// opting a workspace out of analytics.
func (h *AnalyticsHandlers) SetTracking(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	h.Tracker.SetEnabled(*req.Enabled)
	h.logger.Info("tracking toggled", "enabled", h.Tracker.Enabled(), "user_id", middleware.UserID(c))
	c.JSON(http.StatusOK, gin.H{"tracking_enabled": h.Tracker.Enabled()})
}
