package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-bridge/internal/model"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Device.Transport)
	assert.Equal(t, 5*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Device.IOTimeout)
	assert.Equal(t, model.FormatJSON, cfg.WireFormat())
	assert.Equal(t, model.TransportTypeTCP, cfg.TransportType())
	assert.Equal(t, 15*time.Second, cfg.Bridge.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)

	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", endpoint.Address())
	assert.Equal(t, 10*time.Second, endpoint.MaxDuration())
}

func TestLoadFile_LegacyEnvironment(t *testing.T) {
	t.Setenv("DEVICE_IP", "10.0.0.5")
	t.Setenv("DEVICE_PORT", "4001")
	t.Setenv("DEVICE_TIMEOUT", "3")
	t.Setenv("DEVICE_NAME", "alarm-host")
	t.Setenv("MANUFACTURER", "Acme")
	t.Setenv("SERVER_PORT", "8181")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Device.Host)
	assert.Equal(t, 4001, cfg.Device.Port)
	assert.Equal(t, 3*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Device.IOTimeout)
	assert.Equal(t, "8181", cfg.Server.Port)

	info := cfg.DeviceInfo()
	assert.Equal(t, "alarm-host", info.DeviceName)
	assert.Equal(t, "Acme", info.Manufacturer)
	assert.Equal(t, "10.0.0.5:4001", info.Address)
}

func TestLoadFile_PrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("DEVICE_HOST", "legacy.local")
	t.Setenv("DEVICE_BRIDGE_DEVICE_HOST", "bridge.local")
	t.Setenv("DEVICE_BRIDGE_DEVICE_IO_TIMEOUT", "750ms")
	t.Setenv("DEVICE_BRIDGE_DEVICE_FORMAT", "xml")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "bridge.local", cfg.Device.Host)
	assert.Equal(t, 750*time.Millisecond, cfg.Device.IOTimeout)
	assert.Equal(t, model.FormatXML, cfg.WireFormat())
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := []byte(`
device:
  host: 192.168.1.20
  port: 7000
  format: csv
  io_timeout: 2s
  eager_framing: false
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.Device.Host)
	assert.Equal(t, 7000, cfg.Device.Port)
	assert.Equal(t, model.FormatCSV, cfg.WireFormat())
	assert.Equal(t, 2*time.Second, cfg.Device.IOTimeout)
	assert.False(t, cfg.Device.EagerFraming)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad format", map[string]string{"DEVICE_BRIDGE_DEVICE_FORMAT": "yaml"}, "device.format"},
		{"bad transport", map[string]string{"DEVICE_BRIDGE_DEVICE_TRANSPORT": "usb"}, "device.transport"},
		{"bad port", map[string]string{"DEVICE_BRIDGE_DEVICE_PORT": "70000"}, "device.port"},
		{"serial without port", map[string]string{"DEVICE_BRIDGE_DEVICE_TRANSPORT": "serial"}, "device.serial.port"},
		{"zero io timeout", map[string]string{"DEVICE_BRIDGE_DEVICE_IO_TIMEOUT": "0s"}, "device.io_timeout"},
		{"bad level", map[string]string{"DEVICE_BRIDGE_LOGGING_LEVEL": "verbose"}, "logging.level"},
		{"bad timeout", map[string]string{"DEVICE_TIMEOUT": "soon"}, "DEVICE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			_, err := LoadFile("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLegacyDuration(t *testing.T) {
	d, err := parseLegacyDuration("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)

	d, err = parseLegacyDuration("400ms")
	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, d)
}

func TestLoadFile_ExampleConfig(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, model.FormatXML, cfg.WireFormat())
	assert.Equal(t, "Alarm Host", cfg.DeviceInfo().DeviceName)
	assert.True(t, cfg.Device.EagerFraming)
	assert.Equal(t, 100*time.Millisecond, cfg.Bridge.MinStreamPeriod)
}
