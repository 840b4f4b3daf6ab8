//go:build test

package main

import (
	"bytes"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blimp/internal/testutils"
)

// Profile fixtures shared by the command tests
const (
	batteryProfile   = "../../profiles/battery.yaml"
	heartRateProfile = "../../profiles/heart_rate.json"
	uartProfile      = "../../profiles/uart.yaml"
)

// CommandTestSuite extends MockBLEDeviceSuite with command testing utilities.
// All cmd/blimp test suites should embed this instead of MockBLEDeviceSuite.
type CommandTestSuite struct {
	testutils.MockBLEDeviceSuite
}

// SetupTest resets command flags left over from a previous Execute
func (s *CommandTestSuite) SetupTest() {
	s.MockBLEDeviceSuite.SetupTest()
	resetFlags(rootCmd)
}

// ExecuteCommand runs the root command with args, returns combined output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	err := s.execute("", buf, buf, args...)
	return buf.String(), err
}

// ExecuteWithInput runs the root command with stdin fed from input.
// Stdout is returned on its own; stderr is discarded since background goroutines write to it.
func (s *CommandTestSuite) ExecuteWithInput(input string, args ...string) (string, error) {
	out := new(bytes.Buffer)
	err := s.execute(input, out, io.Discard, args...)
	return out.String(), err
}

func (s *CommandTestSuite) execute(input string, out, errOut io.Writer, args ...string) error {
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	return rootCmd.Execute()
}

// resetFlags restores every flag of cmd and its subcommands to its default.
// Package-level flag variables survive between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
