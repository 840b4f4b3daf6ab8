//go:build test

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-ble/ble"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// ServeTestSuite runs the serve command against a mocked BLE device over stdio
type ServeTestSuite struct {
	CommandTestSuite
}

func (suite *ServeTestSuite) TestServeAnswersHostCommands() {
	// GOAL: Verify serve publishes the profile, advertises it and answers host commands on stdout
	//
	// TEST SCENARIO: Host sends getState and getServices then closes stdin → both results written, serve exits cleanly

	input := `{"id": 1, "action": "getState"}
{"id": 2, "action": "getServices"}
`
	output, err := suite.ExecuteWithInput(input, "serve", "--profile", batteryProfile, "--name", "thermo")
	suite.Require().NoError(err, "serve MUST exit cleanly when the host closes its input")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	suite.Require().Len(lines, 2, "each command MUST get exactly one result line")

	ja := testutils.NewJSONAsserter(suite.T())
	ja.Assert(lines[0], `{"id": 1, "ok": true, "keep": false, "result": {"state": "poweredOn", "phase": "advertising"}}`)
	ja.Assert(lines[1], `{"id": 2, "ok": true, "result": [{"uuid": "180f", "status": "published"}]}`)

	suite.Len(suite.Device.Services(), 1, "battery service MUST be added to the device")
	suite.NotNil(suite.Device.Characteristic("180f", "2a19"), "battery level MUST be registered")
	suite.Device.AssertCalled(suite.T(), "AdvertiseNameAndServices", mock.Anything, "thermo", []ble.UUID{ble.MustParse("180f")})
}

func (suite *ServeTestSuite) TestServeWithoutAdvertising() {
	output, err := suite.ExecuteWithInput(`{"id": "s", "action": "getState"}`+"\n",
		"serve", "--profile", uartProfile, "--no-advertise")
	suite.Require().NoError(err)

	testutils.NewJSONAsserter(suite.T()).
		Assert(strings.TrimSpace(output), `{"id": "s", "ok": true, "result": {"state": "poweredOn", "phase": "idle"}}`)
	suite.Device.AssertNotCalled(suite.T(), "AdvertiseNameAndServices", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ServeTestSuite) TestServeConfigFile() {
	// GOAL: Verify the config file supplies profiles and flags override it
	//
	// TEST SCENARIO: Config names the heart rate profile and a local name, --name overrides the name

	path := filepath.Join(suite.T().TempDir(), "blimp.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(`
local_name: from-config
profiles:
  - `+heartRateProfile+`
`), 0o600))

	_, err := suite.ExecuteWithInput("", "serve", "--config", path, "--name", "from-flag")
	suite.Require().NoError(err)

	suite.Len(suite.Device.Services(), 2, "heart rate profile declares two services")
	suite.Device.AssertCalled(suite.T(), "AdvertiseNameAndServices", mock.Anything, "from-flag", mock.Anything)
}

func (suite *ServeTestSuite) TestServeRejectsInvalidConfiguration() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown transport", args: []string{"serve", "--transport", "usb"}, wantErr: "invalid configuration"},
		{name: "missing profile", args: []string{"serve", "--profile", "nope.yaml"}, wantErr: "failed to read profile"},
		{name: "bad log level", args: []string{"serve", "--log-level", "loud"}, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, err := suite.ExecuteWithInput("", tt.args...)
			suite.Require().Error(err)
			suite.Contains(err.Error(), tt.wantErr)
		})
	}
}

func TestServeTestSuite(t *testing.T) {
	suite.Run(t, new(ServeTestSuite))
}

// ServeBluetoothOffTestSuite runs serve with a device that cannot be opened
type ServeBluetoothOffTestSuite struct {
	CommandTestSuite
}

func (suite *ServeBluetoothOffTestSuite) SetupTest() {
	suite.WithDeviceError(goble.ErrBluetoothOff)
	suite.CommandTestSuite.SetupTest()
}

func (suite *ServeBluetoothOffTestSuite) TestServeFailsWhenAdapterIsOff() {
	cfg := filepath.Join(suite.T().TempDir(), "blimp.yaml")
	suite.Require().NoError(os.WriteFile(cfg, []byte("start_timeout: 300ms\n"), 0o600))

	_, err := suite.ExecuteWithInput("", "serve", "--config", cfg, "--profile", batteryProfile)
	suite.Require().Error(err, "publishing MUST fail while Bluetooth is off")
	suite.Contains(err.Error(), "failed to publish service")
}

func TestServeBluetoothOffTestSuite(t *testing.T) {
	suite.Run(t, new(ServeBluetoothOffTestSuite))
}
