// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "device-bridge/docs"
	"device-bridge/internal/config"
	"device-bridge/internal/handler"
	"device-bridge/internal/protocol"
	"device-bridge/internal/routes"
	"device-bridge/internal/service"
	"device-bridge/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	transport  protocol.Transport
	dispatcher *service.Dispatcher
	eventBus   *handler.EventBus
}

// @title Device Bridge API
// @version 1.0.0
// @description HTTP façade over a single networked device speaking JSON, XML, CSV or line-oriented text

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version,
		zap.String("environment", cfg.App.Environment),
		zap.String("transport", cfg.Device.Transport),
		zap.String("format", string(cfg.WireFormat())),
	)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeTransport(); err != nil {
		return nil, fmt.Errorf("failed to initialize transport: %w", err)
	}

	if err := app.initializeDispatcher(); err != nil {
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeTransport creates the device transport
func (app *Application) initializeTransport() error {
	transport, err := protocol.CreateTransport(app.config, app.logger)
	if err != nil {
		return err
	}
	app.transport = transport

	app.logger.Info("Transport initialized successfully",
		zap.String("type", string(transport.Type())),
		zap.String("address", transport.Address()),
	)
	return nil
}

// initializeDispatcher wires codecs, transport and the event bus together
func (app *Application) initializeDispatcher() error {
	app.eventBus = handler.NewEventBus(app.config.Bridge.EventBufferSize, app.logger)

	dispatcher, err := service.NewDispatcher(
		app.transport,
		app.config.WireFormat(),
		app.config.DeviceInfo(),
		app.logger,
		service.WithEagerFraming(app.config.Device.EagerFraming),
		service.WithEventPublisher(app.eventBus),
	)
	if err != nil {
		return err
	}
	app.dispatcher = dispatcher

	app.logger.Info("Dispatcher initialized successfully",
		zap.String("format", string(dispatcher.Format())),
		zap.Bool("eager_framing", app.config.Device.EagerFraming),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	app.router = routes.NewRouter(app.config, app.logger, app.dispatcher, app.eventBus)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.eventBus.Start()
	go app.probeDevice()

	app.logger.Info("Background services started")
}

// probeDevice logs whether the device is reachable at startup. The bridge
// serves requests either way; every call connects afresh.
func (app *Application) probeDevice() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Bridge.RequestTimeout)
	defer cancel()

	if err := app.dispatcher.Probe(ctx); err != nil {
		app.logger.Warn("Device not reachable at startup",
			zap.String("address", app.transport.Address()),
			zap.Error(err),
		)
		return
	}

	app.logger.Info("Device reachable", zap.String("address", app.transport.Address()))
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	// In-flight bridge calls are bounded by bridge.request_timeout
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Bridge.RequestTimeout+5*time.Second)
	defer cancel()

	app.router.Shutdown()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.eventBus.Stop()

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
