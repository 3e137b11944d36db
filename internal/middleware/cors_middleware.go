// internal/middleware/cors_middleware.go
package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"device-bridge/internal/config"
)

// CORSMiddleware creates CORS middleware
func CORSMiddleware(config *config.SecurityConfig) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	// a wildcard origin cannot be combined with credentials
	if allowsAnyOrigin(config.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", RequestIDHeader}

	return cors.New(corsConfig)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
