// internal/model/device.go
package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// TransportType represents how the bridge reaches the device
type TransportType string

const (
	TransportTypeTCP    TransportType = "TCP"
	TransportTypeSerial TransportType = "SERIAL"
)

// ParseTransportType parses a transport name
func ParseTransportType(name string) (TransportType, error) {
	switch name {
	case "tcp", "TCP":
		return TransportTypeTCP, nil
	case "serial", "SERIAL":
		return TransportTypeSerial, nil
	default:
		return "", fmt.Errorf("unsupported transport: %q", name)
	}
}

// DeviceEndpoint identifies the device and bounds every exchange with it.
// It is built once from configuration and never mutated.
type DeviceEndpoint struct {
	Host           string        `json:"host"`
	Port           uint16        `json:"port"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	IOTimeout      time.Duration `json:"io_timeout"`
}

// NewDeviceEndpoint creates a validated endpoint
func NewDeviceEndpoint(host string, port uint16, connectTimeout, ioTimeout time.Duration) (DeviceEndpoint, error) {
	if host == "" {
		return DeviceEndpoint{}, fmt.Errorf("device host is required")
	}
	if port == 0 {
		return DeviceEndpoint{}, fmt.Errorf("device port is required")
	}
	if connectTimeout <= 0 {
		return DeviceEndpoint{}, fmt.Errorf("connect timeout must be positive")
	}
	if ioTimeout <= 0 {
		return DeviceEndpoint{}, fmt.Errorf("io timeout must be positive")
	}

	return DeviceEndpoint{
		Host:           host,
		Port:           port,
		ConnectTimeout: connectTimeout,
		IOTimeout:      ioTimeout,
	}, nil
}

// Address returns host:port
func (e DeviceEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// MaxDuration is the upper bound of one exchange with this endpoint
func (e DeviceEndpoint) MaxDuration() time.Duration {
	return e.ConnectTimeout + e.IOTimeout
}

// DeviceInfo is the static description served by Info operations
type DeviceInfo struct {
	DeviceName      string        `json:"device_name"`
	DeviceModel     string        `json:"device_model"`
	Manufacturer    string        `json:"manufacturer"`
	DeviceType      string        `json:"device_type"`
	PrimaryProtocol string        `json:"primary_protocol"`
	Transport       TransportType `json:"transport"`
	Address         string        `json:"address"`
	Format          Format        `json:"format"`
}
