package peripheral

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ServiceDeclaration is the declarative (JSON or YAML) form of a service subtree.
//
//	{
//	  "uuid": "ffe0",
//	  "characteristics": [{
//	    "uuid": "ffe1",
//	    "properties": "read,notify",
//	    "permissions": 1,
//	    "descriptors": [{"uuid": "2901", "value": "Receive"}]
//	  }]
//	}
type ServiceDeclaration struct {
	UUID            string                      `json:"uuid"`
	Primary         *bool                       `json:"primary,omitempty"`
	Characteristics []CharacteristicDeclaration `json:"characteristics"`
}

// CharacteristicDeclaration declares one characteristic. Properties and permissions are mandatory.
type CharacteristicDeclaration struct {
	UUID        string                  `json:"uuid"`
	Properties  *Properties             `json:"properties"`
	Permissions *Permissions            `json:"permissions"`
	Value       DeclaredValue           `json:"value,omitempty"`
	Descriptors []DescriptorDeclaration `json:"descriptors,omitempty"`
}

// DescriptorDeclaration declares one descriptor
type DescriptorDeclaration struct {
	UUID        string        `json:"uuid"`
	Value       DeclaredValue `json:"value,omitempty"`
	Permissions *Permissions  `json:"permissions,omitempty"`
}

// DeclaredValue is an attribute value written either as a text string or as a byte array
type DeclaredValue []byte

// UnmarshalJSON accepts "text" or [1, 2, 255]
func (v *DeclaredValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = DeclaredValue(s)
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("value must be a string or a byte array: %s", string(data))
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 0xff {
			return fmt.Errorf("value byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*v = out
	return nil
}

// MarshalJSON writes printable UTF-8 as a string and anything else as a byte array
func (v DeclaredValue) MarshalJSON() ([]byte, error) {
	if isPrintable(v) {
		return json.Marshal(string(v))
	}
	nums := make([]int, len(v))
	for i, b := range v {
		nums[i] = int(b)
	}
	return json.Marshal(nums)
}

func isPrintable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Profile is a set of service declarations, the format of profile files
type Profile struct {
	Services []ServiceDeclaration `json:"services"`
}

// ParseDeclaration decodes a JSON or YAML service declaration.
// Structural problems are reported as MalformedDeclaration.
func ParseDeclaration(data []byte) (*ServiceDeclaration, error) {
	doc, err := jsonDocument(data)
	if err != nil {
		return nil, err
	}

	var decl ServiceDeclaration
	if err := json.Unmarshal(doc, &decl); err != nil {
		return nil, newError(KindMalformedDeclaration, "%v", err)
	}
	return &decl, nil
}

// ParseProfile decodes a profile document: either {"services": [...]} or a single service declaration
func ParseProfile(data []byte) (*Profile, error) {
	doc, err := jsonDocument(data)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Services json.RawMessage `json:"services"`
	}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, newError(KindMalformedDeclaration, "%v", err)
	}
	if probe.Services == nil {
		decl, err := ParseDeclaration(doc)
		if err != nil {
			return nil, err
		}
		return &Profile{Services: []ServiceDeclaration{*decl}}, nil
	}

	var profile Profile
	if err := json.Unmarshal(doc, &profile); err != nil {
		return nil, newError(KindMalformedDeclaration, "%v", err)
	}
	return &profile, nil
}

func jsonDocument(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, newError(KindMalformedDeclaration, "empty declaration")
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}
	converted, err := yamlToJSON(trimmed)
	if err != nil {
		return nil, newError(KindMalformedDeclaration, "%v", err)
	}
	return converted, nil
}

// yamlToJSON re-encodes a YAML document so a single set of JSON decoders handles both formats
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	doc, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func jsonCompatible(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	case []interface{}:
		for i, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}

// IsPrimary reports the primary flag; services are primary unless declared otherwise
func (d *ServiceDeclaration) IsPrimary() bool {
	return d.Primary == nil || *d.Primary
}

// Specs validates the declaration and converts it to registry specs
func (d *ServiceDeclaration) Specs() ([]CharacteristicSpec, error) {
	if d.UUID == "" {
		return nil, newError(KindMalformedDeclaration, "service uuid is missing")
	}

	specs := make([]CharacteristicSpec, 0, len(d.Characteristics))
	for i, c := range d.Characteristics {
		if c.UUID == "" {
			return nil, newError(KindMalformedDeclaration, "characteristic #%d: uuid is missing", i)
		}
		if c.Properties == nil {
			return nil, newError(KindMalformedDeclaration, "characteristic %q: properties are missing", c.UUID)
		}
		if c.Permissions == nil {
			return nil, newError(KindMalformedDeclaration, "characteristic %q: permissions are missing", c.UUID)
		}

		spec := CharacteristicSpec{
			UUID:        c.UUID,
			Properties:  *c.Properties,
			Permissions: *c.Permissions,
			Value:       []byte(c.Value),
		}
		for j, desc := range c.Descriptors {
			if desc.UUID == "" {
				return nil, newError(KindMalformedDeclaration, "characteristic %q: descriptor #%d: uuid is missing", c.UUID, j)
			}
			ds := DescriptorSpec{UUID: desc.UUID, Value: []byte(desc.Value)}
			if desc.Permissions != nil {
				ds.Permissions = *desc.Permissions
			}
			spec.Descriptors = append(spec.Descriptors, ds)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// CreateServiceFromDeclaration builds the whole declared subtree or nothing at all
func (r *Registry) CreateServiceFromDeclaration(decl *ServiceDeclaration) (ServiceHandle, error) {
	if decl == nil {
		return "", newError(KindMalformedDeclaration, "nil declaration")
	}
	specs, err := decl.Specs()
	if err != nil {
		return "", err
	}

	h, err := r.CreateService(decl.UUID, decl.IsPrimary())
	if err != nil {
		return "", err
	}
	for _, spec := range specs {
		if _, err := r.AddCharacteristic(h, spec); err != nil {
			_ = r.RemoveService(h)
			return "", err
		}
	}
	return h, nil
}

// DeclarationOf renders a service graph back into declarative form
func DeclarationOf(g ServiceGraph) ServiceDeclaration {
	primary := g.Primary
	decl := ServiceDeclaration{UUID: g.UUID, Primary: &primary}
	for _, c := range g.Characteristics {
		props, perms := c.Properties, c.Permissions
		cd := CharacteristicDeclaration{
			UUID:        c.UUID,
			Properties:  &props,
			Permissions: &perms,
			Value:       DeclaredValue(c.Value),
		}
		for _, d := range c.Descriptors {
			dp := d.Permissions
			cd.Descriptors = append(cd.Descriptors, DescriptorDeclaration{UUID: d.UUID, Value: DeclaredValue(d.Value), Permissions: &dp})
		}
		decl.Characteristics = append(decl.Characteristics, cd)
	}
	return decl
}
