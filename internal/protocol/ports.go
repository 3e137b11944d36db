// internal/protocol/ports.go
package protocol

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var listPorts = serial.GetPortsList

// ListSerialPorts returns the serial ports present on this host
func ListSerialPorts() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	return ports, nil
}

// checkSerialPort logs whether the configured port is among those the OS reports.
// Pseudo-terminals and some adapters are not enumerated, so a missing port only warns.
func checkSerialPort(port string, logger *zap.Logger) bool {
	ports, err := ListSerialPorts()
	if err != nil {
		logger.Warn("Could not enumerate serial ports", zap.Error(err))
		return false
	}

	for _, name := range ports {
		if name == port {
			logger.Debug("Serial port present", zap.String("port", port))
			return true
		}
	}

	logger.Warn("Configured serial port not found",
		zap.String("port", port),
		zap.Strings("available", ports),
	)
	return false
}
