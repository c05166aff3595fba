package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the dashboard origin to call the API with credentials, so the
// jwt_token cookie travels with beacons.
func CORS(origin string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{origin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "Cache-Control", "X-Requested-With", "X-API-KEY", "X-Tab-ID", "X-Page-Path"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
