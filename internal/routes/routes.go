// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/handler"
	"device-bridge/internal/middleware"
	"device-bridge/internal/utils"
	"device-bridge/pkg/bridge"
)

// Device is what the router needs from the bridge
type Device interface {
	bridge.Bridge
	bridge.HealthChecker
}

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	device    Device
	eventBus  *handler.EventBus
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, device Device, eventBus *handler.EventBus) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		device:   device,
		eventBus: eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Shutdown disconnects websocket clients
func (r *Router) Shutdown() {
	if r.websocket != nil {
		r.websocket.Shutdown()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.device, r.config, r.logger)
	bridgeHandler := handler.NewBridgeHandler(r.device, r.config, r.logger)
	r.websocket = handler.NewWebSocketHandler(r.device, r.eventBus, r.config, r.logger)

	healthHandler.RegisterRoutes(router)

	// The drivers served their operations at the root; /api/v1 mirrors them
	bridgeHandler.RegisterRoutes(router)
	bridgeHandler.RegisterRoutes(router.Group("/api/v1"))

	r.websocket.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	router.NoRoute(func(c *gin.Context) {
		utils.ErrorResponse(c, http.StatusNotFound, "Route not found", nil)
	})

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
