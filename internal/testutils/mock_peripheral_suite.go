//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// MockBLEDeviceSuite provides a reusable test suite that routes the go-ble stack to a
// mocked BLE device instead of the host adapter.
//
// Basic usage (device accepts services and advertises until stopped):
//
//	type ServeSuite struct {
//	    testutils.MockBLEDeviceSuite
//	}
//
//	func TestServeSuite(t *testing.T) {
//	    suite.Run(t, new(ServeSuite))
//	}
//
// Failing device usage:
//
//	func (s *ServeSuite) SetupTest() {
//	    s.WithDeviceError(goble.ErrBluetoothOff)
//	    s.MockBLEDeviceSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEDeviceSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	// Device is the mock handed out by the device factory during a test
	Device *MockDevice

	deviceErr error
}

// SetupSuite is called once before all tests in the suite.
func (s *MockBLEDeviceSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
			s.Logger.Debug("Device factory restored via t.Cleanup")
		}
	})
}

// SetupTest installs the mock device factory before each test.
func (s *MockBLEDeviceSuite) SetupTest() {
	if s.Device == nil {
		s.Device = NewMockDevice()
		s.Device.On("AddService", mock.Anything).Return(nil).Maybe()
		s.Device.AdvertiseUntilStopped()
	}

	dev, devErr := s.Device, s.deviceErr
	goble.DeviceFactory = func() (blelib.Device, error) {
		if devErr != nil {
			return nil, devErr
		}
		return dev, nil
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest restores the device factory and drops per-test configuration.
func (s *MockBLEDeviceSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.Device = nil
	s.deviceErr = nil
}

// WithDevice replaces the default mock device; call before SetupTest.
func (s *MockBLEDeviceSuite) WithDevice(dev *MockDevice) *MockDevice {
	s.Device = dev
	return dev
}

// WithDeviceError makes the device factory fail with err; call before SetupTest.
func (s *MockBLEDeviceSuite) WithDeviceError(err error) {
	s.deviceErr = err
}
