// api/models/event.go
package models

import (
	"encoding/json"
	"time"
)

// AnalyticsEvent is one row of the analytics_events warehouse table.
type AnalyticsEvent struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	UserID     string          `json:"userId"`
	SessionID  string          `json:"sessionId"`
	Timestamp  time.Time       `json:"timestamp"`
	PagePath   string          `json:"pagePath"`
	Referrer   string          `json:"referrer"`
	UserAgent  string          `json:"userAgent"`
	IPAddress  string          `json:"ipAddress"`
	DurationMs int64           `json:"durationMs"`
	Location   string          `json:"location,omitempty"`
	EventData  json.RawMessage `json:"eventData,omitempty"`
}

// Event types accepted by POST /api/track. An empty type is a custom event
// named by Name; the others decode Properties into the matching typed event.
const (
	EventCustom          = "custom"
	EventFeatureUsage    = "feature_usage"
	EventError           = "error"
	EventPerformance     = "performance"
	EventSearch          = "search"
	EventFilter          = "filter"
	EventModal           = "modal"
	EventNavigation      = "navigation"
	EventBusinessMetric  = "business_metric"
	EventMarketing       = "marketing"
	EventSalesStage      = "sales_stage"
	EventAuth            = "auth"
	EventPageAnalytics   = "page_analytics"
	EventButtonAnalytics = "button_analytics"
)

// CustomEventRequest is the body element accepted by POST /api/track.
type CustomEventRequest struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

// SuperPropertiesRequest is the body of POST /api/super-properties. Once
// keeps values already registered for the tab.
type SuperPropertiesRequest struct {
	Properties map[string]any `json:"properties" binding:"required"`
	Once       bool           `json:"once"`
}
