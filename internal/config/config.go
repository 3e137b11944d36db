// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"device-bridge/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Device   DeviceConfig   `mapstructure:"device"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DeviceConfig describes the single device behind the bridge
type DeviceConfig struct {
	Name         string `mapstructure:"name"`
	Model        string `mapstructure:"model"`
	Manufacturer string `mapstructure:"manufacturer"`
	Type         string `mapstructure:"type"`
	Protocol     string `mapstructure:"protocol"`

	Transport        string           `mapstructure:"transport"`
	Host             string           `mapstructure:"host"`
	Port             int              `mapstructure:"port"`
	ConnectTimeout   time.Duration    `mapstructure:"connect_timeout"`
	IOTimeout        time.Duration    `mapstructure:"io_timeout"`
	Format           string           `mapstructure:"format"`
	MaxResponseBytes int              `mapstructure:"max_response_bytes"`
	ReadBufferSize   int              `mapstructure:"read_buffer_size"`
	EagerFraming     bool             `mapstructure:"eager_framing"`
	KeepAlive        bool             `mapstructure:"keep_alive"`
	Serial           SerialPortConfig `mapstructure:"serial"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// BridgeConfig represents façade behaviour around bridge calls
type BridgeConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	StreamInterval  time.Duration `mapstructure:"stream_interval"`
	MinStreamPeriod time.Duration `mapstructure:"min_stream_interval"`
	EventBufferSize int           `mapstructure:"event_buffer_size"`
	MaxCommandBytes int64         `mapstructure:"max_command_bytes"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

const envPrefix = "DEVICE_BRIDGE"

// legacyEnv maps config keys onto the variable names older drivers were deployed with
var legacyEnv = map[string][]string{
	"device.host":         {"DEVICE_HOST", "DEVICE_IP"},
	"device.port":         {"DEVICE_PORT"},
	"device.name":         {"DEVICE_NAME"},
	"device.model":        {"DEVICE_MODEL"},
	"device.manufacturer": {"MANUFACTURER"},
	"device.type":         {"DEVICE_TYPE"},
	"device.protocol":     {"DEVICE_PROTOCOL"},
	"server.host":         {"SERVER_HOST"},
	"server.port":         {"SERVER_PORT", "HTTP_SERVER_PORT"},
}

// Load loads configuration from an optional YAML file and environment variables.
// The file is taken from DEVICE_BRIDGE_CONFIG, falling back to ./config.yaml.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(envPrefix + "_CONFIG"))
}

// LoadFile loads configuration using the given YAML file, if any
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		bindNames := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, bindNames...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := applyLegacyTimeout(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyLegacyTimeout honours DEVICE_TIMEOUT, given either in seconds or as a duration.
// It becomes the default for both connect and I/O timeouts.
func applyLegacyTimeout(v *viper.Viper) error {
	raw := strings.TrimSpace(os.Getenv("DEVICE_TIMEOUT"))
	if raw == "" {
		return nil
	}

	timeout, err := parseLegacyDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid DEVICE_TIMEOUT %q: %w", raw, err)
	}

	v.SetDefault("device.connect_timeout", timeout)
	v.SetDefault("device.io_timeout", timeout)
	return nil
}

func parseLegacyDuration(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Device defaults
	v.SetDefault("device.name", "generic-device")
	v.SetDefault("device.model", "unknown")
	v.SetDefault("device.manufacturer", "unknown")
	v.SetDefault("device.type", "generic")
	v.SetDefault("device.protocol", "tcp")
	v.SetDefault("device.transport", "tcp")
	v.SetDefault("device.host", "127.0.0.1")
	v.SetDefault("device.port", 9000)
	v.SetDefault("device.connect_timeout", "5s")
	v.SetDefault("device.io_timeout", "5s")
	v.SetDefault("device.format", "json")
	v.SetDefault("device.max_response_bytes", 1<<20)
	v.SetDefault("device.read_buffer_size", 4096)
	v.SetDefault("device.eager_framing", true)
	v.SetDefault("device.keep_alive", false)

	v.SetDefault("device.serial.baud_rate", 9600)
	v.SetDefault("device.serial.data_bits", 8)
	v.SetDefault("device.serial.stop_bits", 1)
	v.SetDefault("device.serial.parity", "none")

	// Bridge defaults
	v.SetDefault("bridge.request_timeout", "15s")
	v.SetDefault("bridge.stream_interval", "1s")
	v.SetDefault("bridge.min_stream_interval", "100ms")
	v.SetDefault("bridge.event_buffer_size", 256)
	v.SetDefault("bridge.max_command_bytes", 1<<20)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "device-bridge")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if port, err := strconv.Atoi(config.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be a port number, got %q", config.Server.Port)
	}

	transport, err := model.ParseTransportType(config.Device.Transport)
	if err != nil {
		return fmt.Errorf("device.transport: %w", err)
	}
	switch transport {
	case model.TransportTypeTCP:
		if config.Device.Host == "" {
			return fmt.Errorf("device.host is required")
		}
		if config.Device.Port < 1 || config.Device.Port > 65535 {
			return fmt.Errorf("device.port must be between 1 and 65535, got %d", config.Device.Port)
		}
	case model.TransportTypeSerial:
		if config.Device.Serial.Port == "" {
			return fmt.Errorf("device.serial.port is required for serial transport")
		}
		if config.Device.Serial.BaudRate <= 0 {
			return fmt.Errorf("device.serial.baud_rate must be positive")
		}
	}

	if config.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be positive")
	}
	if config.Device.IOTimeout <= 0 {
		return fmt.Errorf("device.io_timeout must be positive")
	}
	if _, err := model.ParseFormat(config.Device.Format); err != nil {
		return fmt.Errorf("device.format: %w", err)
	}
	if config.Device.MaxResponseBytes < 0 {
		return fmt.Errorf("device.max_response_bytes must not be negative")
	}
	if config.Device.ReadBufferSize <= 0 {
		return fmt.Errorf("device.read_buffer_size must be positive")
	}

	if config.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("bridge.request_timeout must be positive")
	}
	if config.Bridge.StreamInterval <= 0 {
		return fmt.Errorf("bridge.stream_interval must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// Endpoint builds the immutable device endpoint
func (c *Config) Endpoint() (model.DeviceEndpoint, error) {
	return model.NewDeviceEndpoint(c.Device.Host, uint16(c.Device.Port), c.Device.ConnectTimeout, c.Device.IOTimeout)
}

// WireFormat returns the configured device wire format
func (c *Config) WireFormat() model.Format {
	format, err := model.ParseFormat(c.Device.Format)
	if err != nil {
		return model.FormatJSON
	}
	return format
}

// TransportType returns the configured transport
func (c *Config) TransportType() model.TransportType {
	transport, err := model.ParseTransportType(c.Device.Transport)
	if err != nil {
		return model.TransportTypeTCP
	}
	return transport
}

// DeviceInfo returns the static description served by Info operations
func (c *Config) DeviceInfo() model.DeviceInfo {
	address := c.Device.Serial.Port
	if c.TransportType() == model.TransportTypeTCP {
		if endpoint, err := c.Endpoint(); err == nil {
			address = endpoint.Address()
		}
	}

	return model.DeviceInfo{
		DeviceName:      c.Device.Name,
		DeviceModel:     c.Device.Model,
		Manufacturer:    c.Device.Manufacturer,
		DeviceType:      c.Device.Type,
		PrimaryProtocol: c.Device.Protocol,
		Transport:       c.TransportType(),
		Address:         address,
		Format:          c.WireFormat(),
	}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
