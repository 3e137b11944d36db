// internal/middleware/recovery_middleware.go
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

// RecoveryMiddleware turns a handler panic into an UNKNOWN bridge error
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		route := c.FullPath()
		utils.LoggerWithRequestID(logger, c.GetString(utils.RequestIDKey)).Error("Handler panicked",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Bool("response_started", c.Writer.Written()),
			zap.Stack("stacktrace"),
		)

		// a raw reply or websocket upgrade may already be on the wire
		if c.Writer.Written() {
			c.Abort()
			return
		}

		utils.BridgeErrorResponse(c, http.StatusInternalServerError, false,
			model.NewBridgeError(model.ErrorKindUnknown, fmt.Sprintf("panic while serving %s %s", c.Request.Method, route)))
		c.Abort()
	})
}
