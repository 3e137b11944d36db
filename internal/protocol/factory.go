// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
)

// CreateTransport creates the transport selected by device.transport
func CreateTransport(cfg *config.Config, logger *zap.Logger) (Transport, error) {
	switch cfg.TransportType() {
	case model.TransportTypeTCP:
		return createTCPTransport(cfg, logger)
	case model.TransportTypeSerial:
		return createSerialTransport(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Device.Transport)
	}
}

func createTCPTransport(cfg *config.Config, logger *zap.Logger) (Transport, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("invalid device endpoint: %w", err)
	}

	tcpConfig := &TCPConfig{
		Endpoint:         endpoint,
		KeepAlive:        cfg.Device.KeepAlive,
		ReadBufferSize:   cfg.Device.ReadBufferSize,
		MaxResponseBytes: cfg.Device.MaxResponseBytes,
	}

	logger.Info("Creating TCP transport",
		zap.String("address", endpoint.Address()),
		zap.Duration("connect_timeout", endpoint.ConnectTimeout),
		zap.Duration("io_timeout", endpoint.IOTimeout),
	)

	return NewTCPTransport(tcpConfig, logger), nil
}

func createSerialTransport(cfg *config.Config, logger *zap.Logger) (Transport, error) {
	if cfg.Device.Serial.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}

	serialConfig := &SerialConfig{
		Port:             cfg.Device.Serial.Port,
		BaudRate:         cfg.Device.Serial.BaudRate,
		DataBits:         cfg.Device.Serial.DataBits,
		StopBits:         cfg.Device.Serial.StopBits,
		Parity:           cfg.Device.Serial.Parity,
		ConnectTimeout:   cfg.Device.ConnectTimeout,
		IOTimeout:        cfg.Device.IOTimeout,
		ReadBufferSize:   cfg.Device.ReadBufferSize,
		MaxResponseBytes: cfg.Device.MaxResponseBytes,
	}

	if _, err := serialMode(serialConfig); err != nil {
		return nil, fmt.Errorf("invalid serial settings: %w", err)
	}

	logger.Info("Creating serial transport",
		zap.String("port", serialConfig.Port),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)
	checkSerialPort(serialConfig.Port, logger)

	return NewSerialTransport(serialConfig, logger), nil
}
