package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "blimp", cfg.LocalName)
	assert.True(t, cfg.Advertise)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 35*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.AdvertiseSettle)
	assert.Equal(t, 256, cfg.NotificationBuffer)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "unparsable level falls back to info", logLevel: "chatty", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blimp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
local_name: thermo
profiles: [profiles/battery.yaml]
advertise: false
request_timeout: 5s
transport: pty
tty_symlink: /tmp/blimp
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "thermo", cfg.LocalName)
	assert.Equal(t, []string{"profiles/battery.yaml"}, cfg.Profiles)
	assert.False(t, cfg.Advertise, "explicit false survives the defaults")
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 35*time.Second, cfg.ResponseTimeout, "unset keys keep their defaults")
	assert.Equal(t, "pty", cfg.Transport)
	assert.Equal(t, "/tmp/blimp", cfg.TTYSymlink)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("request_timeout: [1, 2"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad transport", func(c *Config) { c.Transport = "serial" }, "transport"},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"response not above request", func(c *Config) { c.ResponseTimeout = c.RequestTimeout }, "must exceed"},
		{"empty buffers", func(c *Config) { c.OutputBuffer = 0 }, "output_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestConfig_ComponentOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdvertiseSettle = time.Second

	assert.Len(t, cfg.PeripheralOptions(logrus.New()), 4)
	so := cfg.StackOptions()
	assert.Equal(t, 35*time.Second, so.ResponseTimeout)
	assert.Equal(t, time.Second, so.AdvertiseSettle)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
