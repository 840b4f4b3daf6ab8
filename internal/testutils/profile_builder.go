package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/require"
)

// ProfileBuilder builds service declarations with a fluent API
//
//	profile := testutils.NewProfileBuilder().
//	    WithService("180F").
//	    WithCharacteristic("2A19", "read,notify", "readable", []byte{50}).
//	    WithDescriptor("2901", []byte("Battery Level"))
type ProfileBuilder struct {
	profile peripheral.Profile
}

// NewProfileBuilder creates an empty profile builder
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithService adds a primary service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, peripheral.ServiceDeclaration{UUID: uuid})
	return b
}

// WithSecondaryService adds a non-primary service to the profile
func (b *ProfileBuilder) WithSecondaryService(uuid string) *ProfileBuilder {
	primary := false
	b.profile.Services = append(b.profile.Services, peripheral.ServiceDeclaration{UUID: uuid, Primary: &primary})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
// properties and permissions are name lists such as "read,notify" and "readable,writeable".
func (b *ProfileBuilder) WithCharacteristic(uuid, properties, permissions string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	props, err := peripheral.ParseProperties(properties)
	if err != nil {
		panic(fmt.Sprintf("WithCharacteristic: %v", err))
	}
	perms, err := peripheral.ParsePermissions(permissions)
	if err != nil {
		panic(fmt.Sprintf("WithCharacteristic: %v", err))
	}

	svc := &b.profile.Services[len(b.profile.Services)-1]
	svc.Characteristics = append(svc.Characteristics, peripheral.CharacteristicDeclaration{
		UUID:        uuid,
		Properties:  &props,
		Permissions: &perms,
		Value:       value,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *ProfileBuilder) WithDescriptor(uuid string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	char := &svc.Characteristics[len(svc.Characteristics)-1]
	char.Descriptors = append(char.Descriptors, peripheral.DescriptorDeclaration{UUID: uuid, Value: value})
	return b
}

// FromJSON fills the profile from a JSON or YAML document
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	profile, err := peripheral.ParseProfile([]byte(fmt.Sprintf(jsonStrFmt, args...)))
	if err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: %v", err))
	}
	b.profile = *profile
	return b
}

// Build returns the configured profile
func (b *ProfileBuilder) Build() *peripheral.Profile {
	out := b.profile
	return &out
}

// ServiceJSON returns the declaration document of the i-th service
func (b *ProfileBuilder) ServiceJSON(i int) []byte {
	data, err := json.Marshal(b.profile.Services[i])
	if err != nil {
		panic(fmt.Sprintf("ProfileBuilder.ServiceJSON: %v", err))
	}
	return data
}

// JSON returns the whole profile document
func (b *ProfileBuilder) JSON() []byte {
	data, err := json.Marshal(b.profile)
	if err != nil {
		panic(fmt.Sprintf("ProfileBuilder.JSON: %v", err))
	}
	return data
}

// Declare creates every service of the profile on p
func (b *ProfileBuilder) Declare(t *testing.T, p *peripheral.Peripheral) []peripheral.ServiceHandle {
	handles := make([]peripheral.ServiceHandle, 0, len(b.profile.Services))
	for i := range b.profile.Services {
		h, err := p.CreateServiceFromDeclaration(b.ServiceJSON(i))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	return handles
}

// Publish declares and publishes every service of the profile on p
func (b *ProfileBuilder) Publish(t *testing.T, p *peripheral.Peripheral) []peripheral.ServiceHandle {
	handles := b.Declare(t, p)
	for _, h := range handles {
		require.NoError(t, p.PublishService(context.Background(), h))
	}
	return handles
}
