package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"clicktrail/api/middleware"
	"clicktrail/api/models"
	"clicktrail/api/tracker"
)

// Headers the dashboard sends on authenticated calls so server-side events
// land in the right tab scope.
const (
	TabIDHeader    = "X-Tab-ID"
	PagePathHeader = "X-Page-Path"
)

const requestTimeout = 10 * time.Second

// trackingContext derives the request context carrying the caller's tab,
// user and browser details.
func trackingContext(c *gin.Context, tabID string) (context.Context, context.CancelFunc) {
	if tabID == "" {
		tabID = c.GetHeader(TabIDHeader)
	}
	req := c.Request
	cc := tracker.ClientContext{
		TabID:  tabID,
		UserID: middleware.UserID(c),
		IP:     c.ClientIP(),
		Client: models.ClientInfo{
			Path:      c.GetHeader(PagePathHeader),
			Referrer:  req.Referer(),
			UserAgent: req.UserAgent(),
			Locale:    req.Header.Get("Accept-Language"),
		},
	}
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	return tracker.WithClient(ctx, cc), cancel
}

// mergeClient keeps request-derived fields the beacon left blank.
func mergeClient(beacon, req models.ClientInfo) models.ClientInfo {
	if beacon.UserAgent == "" {
		beacon.UserAgent = req.UserAgent
	}
	if beacon.Referrer == "" {
		beacon.Referrer = req.Referrer
	}
	if beacon.Locale == "" {
		beacon.Locale = req.Locale
	}
	if beacon.Path == "" {
		beacon.Path = req.Path
	}
	return beacon
}
