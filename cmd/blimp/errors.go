package main

import (
	"errors"
	"fmt"

	"github.com/srg/blimp/internal/peripheral"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
)

// FormatUserError turns an error chain into a one-line message for the terminal.
// Stack failures get a hint; everything else is printed as is.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return fmt.Sprintf("%v (turn Bluetooth on and retry)", err)
	case errors.Is(err, goble.ErrPermissionDenied):
		return fmt.Sprintf("%v (grant Bluetooth access to this program, or run with the required capabilities)", err)
	case errors.Is(err, goble.ErrUnsupported):
		return fmt.Sprintf("%v (no usable BLE adapter on this host)", err)
	case peripheral.IsKind(err, peripheral.KindStackNotReady):
		return fmt.Sprintf("%v (the BLE adapter is not powered on)", err)
	case peripheral.IsKind(err, peripheral.KindMalformedDeclaration):
		return fmt.Sprintf("invalid service declaration: %v", err)
	}
	return err.Error()
}
