package peripheral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateService(t *testing.T) {
	r := NewRegistry()

	h, err := r.CreateService("0000180F-0000-1000-8000-00805F9B34FB", true)
	require.NoError(t, err)
	assert.Equal(t, ServiceHandle("180f"), h)

	_, err = r.CreateService("180f", false)
	assert.True(t, IsKind(err, KindDuplicateIdentifier))

	_, err = r.CreateService("not-a-uuid", true)
	assert.True(t, IsKind(err, KindMalformedDeclaration))

	status, err := r.Status("180F")
	require.NoError(t, err)
	assert.Equal(t, ServiceBuilding, status)
}

func TestRegistry_AddCharacteristicPreservesOrder(t *testing.T) {
	r := NewRegistry()
	svc, err := r.CreateService("1234", true)
	require.NoError(t, err)

	uuids := []string{"aaaa", "0001", "ffff", "2a19"}
	for _, u := range uuids {
		_, err := r.AddCharacteristic(svc, CharacteristicSpec{UUID: u, Properties: PropRead, Permissions: PermReadable})
		require.NoError(t, err)
	}

	g, err := r.Graph(svc)
	require.NoError(t, err)
	got := make([]string, 0, len(g.Characteristics))
	for _, c := range g.Characteristics {
		got = append(got, c.UUID)
	}
	assert.Equal(t, uuids, got)
}

func TestRegistry_AddCharacteristicErrors(t *testing.T) {
	r := NewRegistry()
	svc, err := r.CreateService("1234", true)
	require.NoError(t, err)

	tests := []struct {
		name string
		svc  ServiceHandle
		spec CharacteristicSpec
		kind ErrorKind
	}{
		{"UnknownService", "9999", CharacteristicSpec{UUID: "0001", Properties: PropRead}, KindUnknownService},
		{"NoProperties", svc, CharacteristicSpec{UUID: "0001"}, KindMalformedDeclaration},
		{"BadUUID", svc, CharacteristicSpec{UUID: "xyz", Properties: PropRead}, KindMalformedDeclaration},
		{"BadPermissions", svc, CharacteristicSpec{UUID: "0001", Properties: PropRead, Permissions: 0x80}, KindMalformedDeclaration},
		{"StackOwnedDescriptor", svc, CharacteristicSpec{
			UUID: "0001", Properties: PropNotify,
			Descriptors: []DescriptorSpec{{UUID: "2902"}},
		}, KindMalformedDeclaration},
		{"DuplicateDescriptor", svc, CharacteristicSpec{
			UUID: "0001", Properties: PropRead,
			Descriptors: []DescriptorSpec{{UUID: "2901"}, {UUID: "2901"}},
		}, KindDuplicateIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.AddCharacteristic(tt.svc, tt.spec)
			assert.Equal(t, tt.kind, KindOf(err), "got %v", err)
		})
	}

	// nothing from the failed attempts was attached
	g, err := r.Graph(svc)
	require.NoError(t, err)
	assert.Empty(t, g.Characteristics)

	_, err = r.AddCharacteristic(svc, CharacteristicSpec{UUID: "0001", Properties: PropRead})
	require.NoError(t, err)
	_, err = r.AddCharacteristic(svc, CharacteristicSpec{UUID: "0001", Properties: PropWrite})
	assert.True(t, IsKind(err, KindDuplicateIdentifier))
}

func TestRegistry_PublishedServiceIsImmutable(t *testing.T) {
	r := NewRegistry()
	svc, _ := r.CreateService("1234", true)
	ch, err := r.AddCharacteristic(svc, CharacteristicSpec{UUID: "5678", Properties: PropRead | PropWrite, Permissions: PermReadable})
	require.NoError(t, err)

	require.NoError(t, r.setStatus(svc, ServicePublished))

	_, err = r.AddCharacteristic(svc, CharacteristicSpec{UUID: "0002", Properties: PropRead})
	assert.True(t, IsKind(err, KindServiceAlreadyPublished))

	_, err = r.AddDescriptor(ch, DescriptorSpec{UUID: "2901"})
	assert.True(t, IsKind(err, KindServiceAlreadyPublished))

	assert.True(t, IsKind(r.RemoveService(svc), KindServiceAlreadyPublished))

	// values stay mutable
	changed, err := r.SetValue(ch, []byte{1, 2})
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.SetValue(ch, []byte{1, 2})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRegistry_GraphIsDeepCopy(t *testing.T) {
	r := NewRegistry()
	svc, _ := r.CreateService("1234", true)
	ch, _ := r.AddCharacteristic(svc, CharacteristicSpec{
		UUID: "5678", Properties: PropRead, Permissions: PermReadable, Value: []byte{9},
		Descriptors: []DescriptorSpec{{UUID: "2901", Value: []byte("label")}},
	})

	g, err := r.Graph(svc)
	require.NoError(t, err)
	g.Characteristics[0].Value[0] = 0
	g.Characteristics[0].Descriptors[0].Value[0] = 'X'

	v, err := r.Value(ch)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, v)

	info, _, _, err := r.LookupDescriptor(DescriptorHandle{Service: "1234", Characteristic: "5678", UUID: "2901"})
	require.NoError(t, err)
	assert.Equal(t, []byte("label"), info.Value)
}

func TestRegistry_LookupWithoutService(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateService("aaaa", true)
	b, _ := r.CreateService("bbbb", true)
	_, _ = r.AddCharacteristic(a, CharacteristicSpec{UUID: "0001", Properties: PropRead})
	_, _ = r.AddCharacteristic(b, CharacteristicSpec{UUID: "0001", Properties: PropRead})

	// only published services are searched
	_, _, _, err := r.Lookup(CharacteristicHandle{UUID: "0001"})
	assert.True(t, IsKind(err, KindUnknownCharacteristic))

	require.NoError(t, r.setStatus(b, ServicePublished))
	_, status, h, err := r.Lookup(CharacteristicHandle{UUID: "0001"})
	require.NoError(t, err)
	assert.Equal(t, ServicePublished, status)
	assert.Equal(t, CharacteristicHandle{Service: "bbbb", UUID: "0001"}, h)
}

func TestRegistry_AddDescriptor(t *testing.T) {
	r := NewRegistry()
	svc, _ := r.CreateService("1234", true)
	ch, _ := r.AddCharacteristic(svc, CharacteristicSpec{UUID: "5678", Properties: PropRead})

	dh, err := r.AddDescriptor(ch, DescriptorSpec{UUID: "2901", Value: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "1234/5678/2901", dh.String())
	assert.Equal(t, ch, dh.Parent())

	_, err = r.AddDescriptor(ch, DescriptorSpec{UUID: "2901"})
	assert.True(t, IsKind(err, KindDuplicateIdentifier))

	_, err = r.AddDescriptor(CharacteristicHandle{Service: "1234", UUID: "9999"}, DescriptorSpec{UUID: "2901"})
	assert.True(t, IsKind(err, KindUnknownCharacteristic))

	err = r.SetDescriptorValue(DescriptorHandle{Service: "1234", Characteristic: "5678", UUID: "2904"}, nil)
	assert.True(t, IsKind(err, KindUnknownDescriptor))
}

func TestRegistry_ServicesInDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"ffff", "1234", "aaaa"} {
		_, err := r.CreateService(u, true)
		require.NoError(t, err)
	}
	require.NoError(t, r.RemoveService("1234"))

	services := r.Services()
	require.Len(t, services, 2)
	assert.Equal(t, "ffff", services[0].UUID)
	assert.Equal(t, "aaaa", services[1].UUID)
}
