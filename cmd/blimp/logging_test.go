package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().BoolP("verbose", "v", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		fallback logrus.Level
		want     logrus.Level
	}{
		{name: "fallback", fallback: logrus.WarnLevel, want: logrus.WarnLevel},
		{name: "verbose", args: []string{"-v"}, fallback: logrus.InfoLevel, want: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"-v", "--log-level", "error"}, fallback: logrus.InfoLevel, want: logrus.ErrorLevel},
		{name: "explicit info", args: []string{"--log-level", "info"}, fallback: logrus.ErrorLevel, want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCommand(t, tt.args...), "verbose", tt.fallback, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_WritesToGivenOutput(t *testing.T) {
	var out bytes.Buffer
	logger, err := configureLogger(newLoggingCommand(t), "verbose", logrus.InfoLevel, &out)
	require.NoError(t, err)

	logger.Info("hello")
	assert.Contains(t, out.String(), "msg=hello")
}

func TestConfigureLogger_InvalidLevel(t *testing.T) {
	_, err := configureLogger(newLoggingCommand(t, "--log-level", "trace"), "verbose", logrus.InfoLevel, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid log level: trace")
}
