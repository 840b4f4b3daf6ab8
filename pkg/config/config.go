package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Peripheral
	LocalName             string        `yaml:"local_name" default:"blimp"`
	Profiles              []string      `yaml:"profiles"`
	Advertise             bool          `yaml:"advertise" default:"true"`
	RequestTimeout        time.Duration `yaml:"request_timeout" default:"30s"`
	NotificationBuffer    int           `yaml:"notification_buffer" default:"256"`
	SerializePublications bool          `yaml:"serialize_publications"`
	StartTimeout          time.Duration `yaml:"start_timeout" default:"30s"`

	// BLE stack
	ResponseTimeout time.Duration `yaml:"response_timeout" default:"35s"`
	AdvertiseSettle time.Duration `yaml:"advertise_settle" default:"250ms"`

	// Host bridge
	Transport    string `yaml:"transport" default:"stdio"` // stdio, pty
	TTYSymlink   string `yaml:"tty_symlink"`
	OutputBuffer int    `yaml:"output_buffer" default:"65536"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by the YAML decoder
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Transport {
	case "stdio", "pty":
	default:
		return fmt.Errorf("transport: must be stdio or pty, got %q", c.Transport)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.ResponseTimeout <= c.RequestTimeout {
		return fmt.Errorf("response_timeout (%s) must exceed request_timeout (%s)", c.ResponseTimeout, c.RequestTimeout)
	}
	if c.NotificationBuffer <= 0 || c.OutputBuffer <= 0 {
		return fmt.Errorf("notification_buffer and output_buffer must be positive")
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// PeripheralOptions converts the peripheral section to peripheral options
func (c *Config) PeripheralOptions(logger *logrus.Logger) []peripheral.Option {
	return []peripheral.Option{
		peripheral.WithLogger(logger),
		peripheral.WithRequestTimeout(c.RequestTimeout),
		peripheral.WithSinkCapacity(c.NotificationBuffer),
		peripheral.WithSerializedPublications(c.SerializePublications),
	}
}

// StackOptions converts the BLE stack section to adapter options
func (c *Config) StackOptions() *goble.Options {
	return &goble.Options{
		ResponseTimeout: c.ResponseTimeout,
		AdvertiseSettle: c.AdvertiseSettle,
	}
}
