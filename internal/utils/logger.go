// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
)

const defaultLogFile = "./logs/device-bridge.log"

// LoggerManager builds the application logger from configuration
type LoggerManager struct {
	config *config.LoggingConfig
}

// NewLogger creates a new logger instance based on configuration
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	manager := &LoggerManager{config: cfg}

	logger, err := manager.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func (lm *LoggerManager) createLogger() (*zap.Logger, error) {
	level, err := ParseLevel(lm.config.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	writeSyncer, err := lm.writeSyncer()
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	core := zapcore.NewCore(lm.encoder(), writeSyncer, level)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func (lm *LoggerManager) encoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.CallerKey = "caller"
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.StacktraceKey = "stacktrace"

	if lm.config.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// writeSyncer returns stdout, stderr or a rotating file
func (lm *LoggerManager) writeSyncer() (zapcore.WriteSyncer, error) {
	switch lm.config.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	filename := lm.config.Output
	if filename == "" {
		filename = defaultLogFile
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    lm.config.MaxSize, // MB
		MaxBackups: lm.config.MaxBackups,
		MaxAge:     lm.config.MaxAge, // days
		Compress:   lm.config.Compress,
	}), nil
}

// ParseLevel parses a configured log level
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// DeviceLogger logs transport events for one device endpoint
type DeviceLogger struct {
	*zap.Logger
	transport model.TransportType
	address   string
}

// NewDeviceLogger creates a logger scoped to a device endpoint
func NewDeviceLogger(baseLogger *zap.Logger, transport model.TransportType, address string) *DeviceLogger {
	return &DeviceLogger{
		Logger: baseLogger.With(
			zap.String("transport", string(transport)),
			zap.String("address", address),
			zap.String("component", "device"),
		),
		transport: transport,
		address:   address,
	}
}

// LogConnection logs connection events
func (dl *DeviceLogger) LogConnection(action string, exchangeID string, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("exchange_id", exchangeID),
		zap.Bool("success", err == nil),
	}

	if err != nil {
		dl.Warn("Device connection event", append(fields, zap.Error(err))...)
		return
	}
	dl.Debug("Device connection event", fields...)
}

// LogExchange logs the outcome of one wire exchange
func (dl *DeviceLogger) LogExchange(exchange *model.WireExchange) {
	dl.Debug("Device exchange finished",
		zap.String("exchange_id", exchange.ID.String()),
		zap.String("termination", string(exchange.Termination)),
		zap.Bool("partial", exchange.Partial),
		zap.Int("request_bytes", len(exchange.Request)),
		zap.Int("response_bytes", len(exchange.Response)),
		zap.Duration("duration", exchange.Duration()),
	)
}

// OperationLogger provides structured logging for one bridge call
type OperationLogger struct {
	logger      *zap.Logger
	operationID string
	startTime   time.Time
}

// NewOperationLogger creates an operation-specific logger
func NewOperationLogger(baseLogger *zap.Logger, kind model.OperationKind, operationID string) *OperationLogger {
	return &OperationLogger{
		logger: baseLogger.With(
			zap.String("operation_kind", string(kind)),
			zap.String("operation_id", operationID),
			zap.String("component", "operation"),
		),
		operationID: operationID,
		startTime:   time.Now(),
	}
}

// Start logs operation start
func (ol *OperationLogger) Start(fields ...zap.Field) {
	ol.logger.Debug("Operation started", append([]zap.Field{zap.Time("start_time", ol.startTime)}, fields...)...)
}

// Step logs a state transition of the operation
func (ol *OperationLogger) Step(state string, fields ...zap.Field) {
	ol.logger.Debug("Operation state",
		append([]zap.Field{
			zap.String("state", state),
			zap.Duration("elapsed", time.Since(ol.startTime)),
		}, fields...)...)
}

// Success logs successful operation completion
func (ol *OperationLogger) Success(fields ...zap.Field) {
	ol.logger.Info("Operation completed successfully",
		append([]zap.Field{
			zap.Duration("duration", time.Since(ol.startTime)),
			zap.Bool("success", true),
		}, fields...)...)
}

// Error logs operation failure. Device-side failures are warnings; only
// Unknown errors are logged at error level.
func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Duration("duration", time.Since(ol.startTime)),
		zap.Bool("success", false),
		zap.Error(err),
	}, fields...)

	if bridgeErr, ok := model.AsBridgeError(err); ok && bridgeErr.Kind != model.ErrorKindUnknown {
		ol.logger.Warn("Operation failed", append(allFields, zap.String("error_kind", string(bridgeErr.Kind)))...)
		return
	}
	ol.logger.Error("Operation failed", allFields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger: baseLogger.With(
			zap.String("service", serviceName),
			zap.String("component", "service"),
		),
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, fields ...zap.Field) {
	sl.Info("Service starting", append([]zap.Field{zap.String("version", version)}, fields...)...)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping", zap.String("reason", reason))
}

// APIRequest is one served HTTP request as the access log records it
type APIRequest struct {
	Method    string
	Route     string
	Path      string
	ClientIP  string
	Status    int
	Duration  time.Duration
	ErrorKind model.ErrorKind
	Exchange  *model.WireExchange
}

// LogAPIRequest logs a served request. A partial device reply is logged at
// warn level even when the request succeeded.
func (sl *ServiceLogger) LogAPIRequest(requestID string, req APIRequest) {
	level := zapcore.InfoLevel
	if req.Status >= 400 || (req.Exchange != nil && req.Exchange.Partial) {
		level = zapcore.WarnLevel
	}
	if req.Status >= 500 {
		level = zapcore.ErrorLevel
	}

	ce := LoggerWithRequestID(sl.Logger, requestID).Check(level, "API request")
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("route", req.Route),
		zap.String("path", req.Path),
		zap.String("client_ip", req.ClientIP),
		zap.Int("status_code", req.Status),
		zap.Duration("duration", req.Duration),
	}
	if req.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", string(req.ErrorKind)))
	}
	if exchange := req.Exchange; exchange != nil {
		fields = append(fields,
			zap.String("exchange_id", exchange.ID.String()),
			zap.String("termination", string(exchange.Termination)),
			zap.Bool("partial", exchange.Partial),
			zap.Int("reply_bytes", len(exchange.Response)),
			zap.Duration("device_duration", exchange.Duration()),
		)
	}
	ce.Write(fields...)
}

// LoggerWithRequestID tags every entry with the request id
func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// CloseLogger flushes buffered log entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
