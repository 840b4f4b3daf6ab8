package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		lookup func(string) string
		uuid   string
		want   string
	}{
		{"service short form", LookupService, "180d", "Heart Rate"},
		{"service 0x prefix", LookupService, "0x180F", "Battery Service"},
		{"service SIG base with dashes", LookupService, "0000180a-0000-1000-8000-00805f9b34fb", "Device Information"},
		{"service SIG base without dashes", LookupService, "0000180d00001000800000805f9b34fb", "Heart Rate"},
		{"vendor service", LookupService, "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "Nordic UART Service"},
		{"characteristic", LookupCharacteristic, "2A19", "Battery Level"},
		{"vendor characteristic", LookupCharacteristic, "6e400003b5a3f393e0a9e50e24dcca9e", "Nordic UART TX"},
		{"descriptor", LookupDescriptor, "00002901-0000-1000-8000-00805f9b34fb", "Characteristic User Descriptor"},
		{"characteristic is not a service", LookupService, "2a19", ""},
		{"unknown", LookupDescriptor, "ffff", ""},
		{"invalid", LookupCharacteristic, "not-a-uuid", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lookup(tt.uuid))
		})
	}
}
