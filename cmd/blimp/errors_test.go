package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blimp/internal/peripheral"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "bluetooth off behind a publication failure",
			err:      fmt.Errorf("failed to publish service 180f: %w", &peripheral.Error{Kind: peripheral.KindPublicationFailed, Reason: goble.ErrBluetoothOff}),
			contains: "turn Bluetooth on",
		},
		{name: "permission denied", err: goble.ErrPermissionDenied, contains: "grant Bluetooth access"},
		{name: "no adapter", err: goble.ErrUnsupported, contains: "no usable BLE adapter"},
		{name: "stack not ready", err: fmt.Errorf("publish: %w", peripheral.ErrStackNotReady), contains: "not powered on"},
		{
			name:     "malformed declaration",
			err:      &peripheral.Error{Kind: peripheral.KindMalformedDeclaration, Msg: "service uuid is missing"},
			contains: "invalid service declaration: malformed_declaration: service uuid is missing",
		},
		{name: "anything else", err: errors.New("boom"), contains: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}
