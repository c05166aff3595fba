package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clicktrail/api/utils"
)

// Context keys set by the auth middleware.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextService   = "service_caller"
)

// ServiceUserHeader names the acting user on API-key requests.
const ServiceUserHeader = "X-User-ID"

// tokenFromRequest prefers the jwt_token cookie, then a bearer header.
func tokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie("jwt_token"); err == nil && token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(header)
}

func apiKeyMatches(c *gin.Context, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	got := c.GetHeader("X-API-KEY")
	return subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) == 1
}

// AuthRequired admits requests with a valid JWT or the shared service API
// key. API-key callers name the user they act for in X-User-ID.
func AuthRequired(secret []byte, apiKey string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKeyMatches(c, apiKey) {
			c.Set(ContextService, true)
			if uid := c.GetHeader(ServiceUserHeader); uid != "" {
				c.Set(ContextUserID, uid)
			}
			c.Next()
			return
		}

		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			logger.Debug("no JWT token found in cookie or header", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		claims, err := utils.ValidateJWT(secret, tokenString)
		if err != nil {
			logger.Info("invalid JWT token", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// AuthOptional identifies the user when a valid token is present and lets
// anonymous requests through. Beacons from logged-out pages use it.
func AuthOptional(secret []byte, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := tokenFromRequest(c); tokenString != "" {
			claims, err := utils.ValidateJWT(secret, tokenString)
			if err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextUserEmail, claims.Email)
			} else {
				logger.Debug("ignoring invalid JWT on optional route", "error", err)
			}
		}
		c.Next()
	}
}

// ServiceOnly admits only callers that authenticated with the service API
// key. It runs after AuthRequired.
func ServiceOnly(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextService) {
			logger.Warn("service-only route called without API key", "path", c.FullPath(), "user_id", UserID(c))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: service credentials required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
