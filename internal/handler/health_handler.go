// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/service"
	"device-bridge/internal/utils"
	"device-bridge/pkg/bridge"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	device    bridge.HealthChecker
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(device bridge.HealthChecker, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		device:    device,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including device reachability
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Device unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	probeStart := time.Now()
	check := CheckResult{
		Status:  "healthy",
		Message: "Device reachable",
		Data: map[string]interface{}{
			"transport": h.config.Device.Transport,
			"format":    h.config.WireFormat(),
		},
	}

	if err := h.probe(c); err != nil {
		bridgeErr := service.Translate(err)
		health.Status = "unhealthy"
		check.Status = "unhealthy"
		check.Message = bridgeErr.Detail
		check.Data["error_kind"] = bridgeErr.Kind
	}
	check.Data["response_time_ms"] = time.Since(probeStart).Milliseconds()
	health.Checks["device"] = check

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck reports whether the device accepts connections
// @Summary Readiness check
// @Description Check if the bridge can reach its device
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string,kind=string} "Device unreachable"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.probe(c); err != nil {
		bridgeErr := service.Translate(err)
		h.logger.Warn("Readiness probe failed", zap.Error(bridgeErr))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": bridgeErr.Detail,
			"kind":   bridgeErr.Kind,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (h *HealthHandler) probe(c *gin.Context) error {
	timeout := h.config.Device.ConnectTimeout
	if timeout <= 0 {
		timeout = h.config.Bridge.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	return h.device.Probe(ctx)
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
