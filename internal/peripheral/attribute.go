package peripheral

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Properties is the characteristic capability bit set, using the ATT property bit values.
type Properties ble.Property

const (
	PropBroadcast   = Properties(ble.CharBroadcast)
	PropRead        = Properties(ble.CharRead)
	PropWriteNR     = Properties(ble.CharWriteNR)
	PropWrite       = Properties(ble.CharWrite)
	PropNotify      = Properties(ble.CharNotify)
	PropIndicate    = Properties(ble.CharIndicate)
	PropSignedWrite = Properties(ble.CharSignedWrite)
	PropExtended    = Properties(ble.CharExtended)
)

// Permissions is the attribute access-control bit set (CoreBluetooth values)
type Permissions uint8

const (
	PermReadable                Permissions = 0x01
	PermWriteable               Permissions = 0x02
	PermReadEncryptionRequired  Permissions = 0x04
	PermWriteEncryptionRequired Permissions = 0x08

	permAll = PermReadable | PermWriteable | PermReadEncryptionRequired | PermWriteEncryptionRequired
)

// flagBits covers both ble.Property (int) and Permissions (uint8)
type flagBits interface{ ~uint8 | ~int }

type flagName[T flagBits] struct {
	flag    T
	name    string
	aliases []string
}

var propertyNames = []flagName[Properties]{
	{PropBroadcast, "broadcast", nil},
	{PropRead, "read", nil},
	{PropWriteNR, "writeWithoutResponse", []string{"writenoresponse", "writenr"}},
	{PropWrite, "write", nil},
	{PropNotify, "notify", nil},
	{PropIndicate, "indicate", nil},
	{PropSignedWrite, "authenticatedSignedWrites", []string{"signedwrite"}},
	{PropExtended, "extendedProperties", []string{"extended"}},
}

var permissionNames = []flagName[Permissions]{
	{PermReadable, "readable", []string{"read"}},
	{PermWriteable, "writeable", []string{"writable", "write"}},
	{PermReadEncryptionRequired, "readEncryptionRequired", nil},
	{PermWriteEncryptionRequired, "writeEncryptionRequired", nil},
}

// Has reports whether all bits of q are set
func (p Properties) Has(q Properties) bool { return p&q == q }

// Any reports whether at least one bit of q is set
func (p Properties) Any(q Properties) bool { return p&q != 0 }

// Notifiable reports whether centrals can subscribe to the characteristic
func (p Properties) Notifiable() bool { return p.Any(PropNotify | PropIndicate) }

// Writable reports whether centrals can write the characteristic
func (p Properties) Writable() bool { return p.Any(PropWrite | PropWriteNR) }

func (p Properties) String() string { return formatFlags(p, propertyNames) }

// MarshalJSON renders properties as a comma-separated name list
func (p Properties) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON accepts a numeric bitmask, a comma-separated string or a string array
func (p *Properties) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFlags(data, propertyNames, 0xff)
	if err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	*p = v
	return nil
}

// Has reports whether all bits of q are set
func (p Permissions) Has(q Permissions) bool { return p&q == q }

func (p Permissions) String() string { return formatFlags(p, permissionNames) }

// MarshalJSON renders permissions as a comma-separated name list
func (p Permissions) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON accepts a numeric bitmask, a comma-separated string or a string array
func (p *Permissions) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFlags(data, permissionNames, permAll)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*p = v
	return nil
}

// ParseProperties parses "read,notify" style property lists
func ParseProperties(s string) (Properties, error) {
	return parseFlagList(strings.Split(s, ","), propertyNames)
}

// ParsePermissions parses "readable,writeable" style permission lists
func ParsePermissions(s string) (Permissions, error) {
	return parseFlagList(strings.Split(s, ","), permissionNames)
}

func formatFlags[T flagBits](v T, names []flagName[T]) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if v&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

func foldFlagName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

func parseFlagList[T flagBits](items []string, names []flagName[T]) (T, error) {
	var out T
	for _, item := range items {
		key := foldFlagName(item)
		if key == "" {
			continue
		}
		found := false
		for _, n := range names {
			if key == strings.ToLower(n.name) {
				found = true
			}
			for _, a := range n.aliases {
				if key == a {
					found = true
				}
			}
			if found {
				out |= n.flag
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", item)
		}
	}
	return out, nil
}

func unmarshalFlags[T flagBits](data []byte, names []flagName[T], mask T) (T, error) {
	var num int
	if err := json.Unmarshal(data, &num); err == nil {
		if num < 0 || num > 0xff || T(num)&^mask != 0 {
			return 0, fmt.Errorf("bitmask 0x%x has unsupported bits", num)
		}
		return T(num), nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return parseFlagList(strings.Split(s, ","), names)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return parseFlagList(list, names)
	}

	return 0, fmt.Errorf("expected number, string or string array, got %s", string(data))
}
