//go:build test

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// InspectTestSuite tests the inspect command functionality
type InspectTestSuite struct {
	CommandTestSuite
}

func (suite *InspectTestSuite) TestInspectTree() {
	// GOAL: Verify the tree view lists services, characteristics and descriptors with known names
	//
	// TEST SCENARIO: Inspect the battery profile without colors → tree matches expected layout

	output, err := suite.ExecuteCommand("inspect", "--no-color", batteryProfile)
	suite.Require().NoError(err, "inspect MUST succeed for a valid profile")

	expected := `
Service 180f (Battery Service) (primary)
  └─ 2a19 (Battery Level)
       properties:  read,notify
       permissions: readable
       value:       64 "d"
       • 2901 (Characteristic User Descriptor) = 42 61 74 74 65 72 79 20 4c 65 76 65 6c "Battery Level"
`
	testutils.NewTextAsserter(suite.T()).
		WithOptions(testutils.WithTrimSpace(true)).
		Assert(output, expected)
}

func (suite *InspectTestSuite) TestInspectJSON() {
	// GOAL: Verify --json prints the declared service graphs
	//
	// TEST SCENARIO: Inspect two profiles as JSON → every declared service appears, unpublished

	output, err := suite.ExecuteCommand("inspect", "--json", batteryProfile, uartProfile)
	suite.Require().NoError(err, "inspect MUST succeed for valid profiles")

	testutils.NewJSONAsserter(suite.T()).Assert(output, `[
		{
			"uuid": "180f",
			"primary": true,
			"status": "building",
			"characteristics": [
				{"uuid": "2a19", "properties": "read,notify", "permissions": "readable", "descriptors": [{"uuid": "2901"}]}
			]
		},
		{
			"uuid": "6e400001b5a3f393e0a9e50e24dcca9e",
			"status": "building",
			"characteristics": [
				{"uuid": "6e400002b5a3f393e0a9e50e24dcca9e", "properties": "writeWithoutResponse,write"},
				{"uuid": "6e400003b5a3f393e0a9e50e24dcca9e", "properties": "notify"}
			]
		}
	]`)
}

func (suite *InspectTestSuite) TestInspectErrors() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no profile", args: []string{"inspect"}, wantErr: "requires at least 1 arg"},
		{name: "missing file", args: []string{"inspect", "does-not-exist.yaml"}, wantErr: "failed to read profile"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, err := suite.ExecuteCommand(tt.args...)
			suite.Require().Error(err)
			suite.Contains(err.Error(), tt.wantErr)
		})
	}
}

func (suite *InspectTestSuite) TestInspectRejectsIncompleteDeclaration() {
	path := filepath.Join(suite.T().TempDir(), "broken.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(`
services:
  - uuid: "180f"
    characteristics:
      - uuid: "2a19"
        properties: read
`), 0o600))

	_, err := suite.ExecuteCommand("inspect", path)
	suite.Require().Error(err, "inspect MUST reject a characteristic without permissions")
	suite.Contains(FormatUserError(err), "invalid service declaration")
}

func TestInspectTestSuite(t *testing.T) {
	suite.Run(t, new(InspectTestSuite))
}
