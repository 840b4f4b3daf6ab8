package peripheral

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (xxxxxxxx-0000-1000-8000-00805f9b34fb)
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the registry key format: lowercase hex, no dashes,
// braces or 0x prefix. SIG base 128-bit UUIDs are reduced to their 16-bit short form.
// Returns an error if the result is not a 16, 32 or 128-bit UUID.
func NormalizeUUID(uuid string) (string, error) {
	s := strings.TrimSpace(uuid)
	s = strings.TrimPrefix(strings.TrimSuffix(s, "}"), "{")
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))

	if s == "" {
		return "", fmt.Errorf("empty UUID")
	}

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		s = s[4:8]
	}

	if _, err := ble.Parse(s); err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", uuid, err)
	}
	return s, nil
}

// MustNormalizeUUID is NormalizeUUID for literals known to be valid.
func MustNormalizeUUID(uuid string) string {
	s, err := NormalizeUUID(uuid)
	if err != nil {
		panic(err)
	}
	return s
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
