package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewPeripheral attaches a peripheral to stack and closes it when the test ends
func (h *TestHelper) NewPeripheral(stack peripheral.Stack, opts ...peripheral.Option) *peripheral.Peripheral {
	opts = append([]peripheral.Option{peripheral.WithLogger(h.Logger)}, opts...)
	p, err := peripheral.New(stack, opts...)
	require.NoError(h.T, err)
	h.T.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

// NewPoweredOnPeripheral returns a fake stack reporting poweredOn and a peripheral attached to it
func (h *TestHelper) NewPoweredOnPeripheral(opts ...peripheral.Option) (*FakeStack, *peripheral.Peripheral) {
	stack := NewFakeStack(peripheral.StatePoweredOn)
	return stack, h.NewPeripheral(stack, opts...)
}

// LoadFixture reads a file addressed relative to the project root (the directory holding go.mod)
func LoadFixture(relPath string) ([]byte, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return nil, fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}
	return data, nil
}
