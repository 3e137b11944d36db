// internal/protocol/connection.go
package protocol

import (
	"time"

	"device-bridge/internal/model"
)

const (
	defaultReadBufferSize = 4096
	serialPollInterval    = 50 * time.Millisecond
)

// TCPConfig represents TCP transport configuration
type TCPConfig struct {
	Endpoint         model.DeviceEndpoint `json:"endpoint"`
	KeepAlive        bool                 `json:"keep_alive"`
	ReadBufferSize   int                  `json:"read_buffer_size"`
	MaxResponseBytes int                  `json:"max_response_bytes"`
}

// SerialConfig represents serial transport configuration
type SerialConfig struct {
	Port             string        `json:"port"`
	BaudRate         int           `json:"baud_rate"`
	DataBits         int           `json:"data_bits"`
	StopBits         int           `json:"stop_bits"`
	Parity           string        `json:"parity"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	IOTimeout        time.Duration `json:"io_timeout"`
	ReadBufferSize   int           `json:"read_buffer_size"`
	MaxResponseBytes int           `json:"max_response_bytes"`
}

func bufferSize(size int) int {
	if size <= 0 {
		return defaultReadBufferSize
	}
	return size
}
