package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blimp/internal/peripheral"
)

var (
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrPermissionDenied = errors.New("bluetooth access denied")
	ErrUnsupported      = errors.New("bluetooth peripheral role is not supported")
	ErrStackClosed      = errors.New("ble stack is closed")
)

// NormalizeError maps known go-ble error strings to the sentinel errors above.
// The original error stays in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "hci0: down"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "unauthorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

// StateOf maps the outcome of opening the BLE device to a power state
func StateOf(err error) peripheral.State {
	switch {
	case err == nil:
		return peripheral.StatePoweredOn
	case errors.Is(err, ErrBluetoothOff):
		return peripheral.StatePoweredOff
	case errors.Is(err, ErrPermissionDenied):
		return peripheral.StateUnauthorized
	default:
		return peripheral.StateUnsupported
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
