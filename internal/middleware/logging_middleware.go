// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

// LoggingMiddleware writes one access log entry per request, carrying the
// device exchange or bridge error kind the handler recorded
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		entry := utils.APIRequest{
			Method:   c.Request.Method,
			Route:    c.FullPath(),
			Path:     c.Request.URL.Path,
			ClientIP: c.ClientIP(),
			Status:   c.Writer.Status(),
			Duration: time.Since(startTime),
		}
		if value, ok := c.Get(utils.ErrorKindKey); ok {
			entry.ErrorKind, _ = value.(model.ErrorKind)
		}
		if value, ok := c.Get(utils.ExchangeKey); ok {
			entry.Exchange, _ = value.(*model.WireExchange)
		}

		logger.LogAPIRequest(c.GetString(utils.RequestIDKey), entry)
	}
}
