package peripheral

import (
	"bytes"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// cccdUUID is the Client Characteristic Configuration descriptor; the stack owns it.
const cccdUUID = "2902"

// ServiceHandle identifies a declared service (its normalized UUID)
type ServiceHandle string

// CharacteristicHandle identifies a characteristic by its parent service and own UUID.
// The parent is an index, not an owning reference.
type CharacteristicHandle struct {
	Service string `json:"service"`
	UUID    string `json:"characteristic"`
}

func (h CharacteristicHandle) String() string {
	return h.Service + "/" + h.UUID
}

// DescriptorHandle identifies a descriptor by its parent characteristic and own UUID
type DescriptorHandle struct {
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	UUID           string `json:"descriptor"`
}

// Parent returns the handle of the owning characteristic
func (h DescriptorHandle) Parent() CharacteristicHandle {
	return CharacteristicHandle{Service: h.Service, UUID: h.Characteristic}
}

func (h DescriptorHandle) String() string {
	return h.Service + "/" + h.Characteristic + "/" + h.UUID
}

// ServiceStatus is the publication lifecycle of a service
type ServiceStatus int

const (
	ServiceBuilding ServiceStatus = iota
	ServicePublishRequested
	ServicePublished
)

func (s ServiceStatus) String() string {
	switch s {
	case ServicePublishRequested:
		return "publish_requested"
	case ServicePublished:
		return "published"
	default:
		return "building"
	}
}

// MarshalText renders the status by name
func (s ServiceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (s *ServiceStatus) UnmarshalText(text []byte) error {
	for _, v := range []ServiceStatus{ServiceBuilding, ServicePublishRequested, ServicePublished} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown service status %q", text)
}

// DescriptorSpec declares a descriptor
type DescriptorSpec struct {
	UUID        string
	Value       []byte
	Permissions Permissions
}

// CharacteristicSpec declares a characteristic together with its descriptors
type CharacteristicSpec struct {
	UUID        string
	Properties  Properties
	Permissions Permissions
	Value       []byte
	Descriptors []DescriptorSpec
}

// ServiceGraph is an immutable deep copy of a service subtree.
// It is what the stack receives on publication and what callers inspect.
type ServiceGraph struct {
	UUID            string               `json:"uuid"`
	Primary         bool                 `json:"primary"`
	Status          ServiceStatus        `json:"status"`
	Characteristics []CharacteristicInfo `json:"characteristics"`
}

// CharacteristicInfo is the snapshot of one characteristic
type CharacteristicInfo struct {
	UUID        string           `json:"uuid"`
	Properties  Properties       `json:"properties"`
	Permissions Permissions      `json:"permissions"`
	Value       []byte           `json:"value"`
	Descriptors []DescriptorInfo `json:"descriptors"`
}

// DescriptorInfo is the snapshot of one descriptor
type DescriptorInfo struct {
	UUID        string      `json:"uuid"`
	Value       []byte      `json:"value"`
	Permissions Permissions `json:"permissions"`
}

// Handle returns the characteristic handle of c within the graph's service
func (g ServiceGraph) Handle(c CharacteristicInfo) CharacteristicHandle {
	return CharacteristicHandle{Service: g.UUID, UUID: c.UUID}
}

type descriptor struct {
	uuid  string
	value []byte
	perms Permissions
}

type characteristic struct {
	uuid  string
	props Properties
	perms Permissions
	value []byte
	descs *orderedmap.OrderedMap[string, *descriptor]
}

type service struct {
	uuid    string
	primary bool
	status  ServiceStatus
	chars   *orderedmap.OrderedMap[string, *characteristic]
}

// Registry owns the declared service graph. It is not safe for concurrent use:
// a Peripheral confines it to its event loop.
type Registry struct {
	services *orderedmap.OrderedMap[string, *service]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		services: orderedmap.New[string, *service](),
	}
}

// CreateService declares a new service in building state
func (r *Registry) CreateService(uuid string, primary bool) (ServiceHandle, error) {
	key, err := NormalizeUUID(uuid)
	if err != nil {
		return "", newError(KindMalformedDeclaration, "service: %v", err)
	}
	if _, exists := r.services.Get(key); exists {
		return "", newError(KindDuplicateIdentifier, "service %q already declared", key)
	}

	r.services.Set(key, &service{
		uuid:    key,
		primary: primary,
		status:  ServiceBuilding,
		chars:   orderedmap.New[string, *characteristic](),
	})
	return ServiceHandle(key), nil
}

// AddCharacteristic attaches a characteristic (and its descriptors) to a building service.
// Nothing is attached if any part of spec is invalid.
func (r *Registry) AddCharacteristic(h ServiceHandle, spec CharacteristicSpec) (CharacteristicHandle, error) {
	svc, err := r.service(h)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	if svc.status != ServiceBuilding {
		return CharacteristicHandle{}, newError(KindServiceAlreadyPublished, "service %q is %s", svc.uuid, svc.status)
	}

	c, err := newCharacteristic(spec)
	if err != nil {
		return CharacteristicHandle{}, err
	}
	if _, exists := svc.chars.Get(c.uuid); exists {
		return CharacteristicHandle{}, newError(KindDuplicateIdentifier, "characteristic %q already declared in service %q", c.uuid, svc.uuid)
	}

	svc.chars.Set(c.uuid, c)
	return CharacteristicHandle{Service: svc.uuid, UUID: c.uuid}, nil
}

// AddDescriptor attaches a descriptor to a characteristic of a building service
func (r *Registry) AddDescriptor(h CharacteristicHandle, spec DescriptorSpec) (DescriptorHandle, error) {
	svc, c, err := r.characteristic(h)
	if err != nil {
		return DescriptorHandle{}, err
	}
	if svc.status != ServiceBuilding {
		return DescriptorHandle{}, newError(KindServiceAlreadyPublished, "service %q is %s", svc.uuid, svc.status)
	}

	d, err := newDescriptor(spec)
	if err != nil {
		return DescriptorHandle{}, err
	}
	if _, exists := c.descs.Get(d.uuid); exists {
		return DescriptorHandle{}, newError(KindDuplicateIdentifier, "descriptor %q already declared in characteristic %q", d.uuid, c.uuid)
	}

	c.descs.Set(d.uuid, d)
	return DescriptorHandle{Service: svc.uuid, Characteristic: c.uuid, UUID: d.uuid}, nil
}

// RemoveService drops a service that has not been handed to the stack
func (r *Registry) RemoveService(h ServiceHandle) error {
	svc, err := r.service(h)
	if err != nil {
		return err
	}
	if svc.status != ServiceBuilding {
		return newError(KindServiceAlreadyPublished, "service %q is %s", svc.uuid, svc.status)
	}
	r.services.Delete(svc.uuid)
	return nil
}

// Status returns the publication status of a service
func (r *Registry) Status(h ServiceHandle) (ServiceStatus, error) {
	svc, err := r.service(h)
	if err != nil {
		return ServiceBuilding, err
	}
	return svc.status, nil
}

// Graph returns a deep copy of a service subtree
func (r *Registry) Graph(h ServiceHandle) (ServiceGraph, error) {
	svc, err := r.service(h)
	if err != nil {
		return ServiceGraph{}, err
	}
	return svc.graph(), nil
}

// Services returns deep copies of all services in declaration order
func (r *Registry) Services() []ServiceGraph {
	out := make([]ServiceGraph, 0, r.services.Len())
	for pair := r.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.graph())
	}
	return out
}

// Value returns a copy of the current characteristic value
func (r *Registry) Value(h CharacteristicHandle) ([]byte, error) {
	_, c, err := r.characteristic(h)
	if err != nil {
		return nil, err
	}
	return cloneBytes(c.value), nil
}

// SetValue replaces the characteristic value. Values stay mutable after publication.
// Returns true if the value actually changed.
func (r *Registry) SetValue(h CharacteristicHandle, value []byte) (bool, error) {
	_, c, err := r.characteristic(h)
	if err != nil {
		return false, err
	}
	changed := !bytes.Equal(c.value, value)
	c.value = cloneBytes(value)
	return changed, nil
}

// SetDescriptorValue replaces a descriptor value
func (r *Registry) SetDescriptorValue(h DescriptorHandle, value []byte) error {
	_, d, err := r.descriptor(h)
	if err != nil {
		return err
	}
	d.value = cloneBytes(value)
	return nil
}

// Lookup resolves a characteristic handle. An empty Service matches the first
// published service declaring that characteristic UUID.
func (r *Registry) Lookup(h CharacteristicHandle) (CharacteristicInfo, ServiceStatus, CharacteristicHandle, error) {
	h, err := r.resolve(h)
	if err != nil {
		return CharacteristicInfo{}, ServiceBuilding, h, err
	}
	svc, c, err := r.characteristic(h)
	if err != nil {
		return CharacteristicInfo{}, ServiceBuilding, h, err
	}
	return c.info(), svc.status, h, nil
}

// LookupDescriptor resolves a descriptor handle, see Lookup
func (r *Registry) LookupDescriptor(h DescriptorHandle) (DescriptorInfo, ServiceStatus, DescriptorHandle, error) {
	parent, err := r.resolve(h.Parent())
	if err != nil {
		return DescriptorInfo{}, ServiceBuilding, h, err
	}
	h.Service, h.Characteristic = parent.Service, parent.UUID
	svc, d, err := r.descriptor(h)
	if err != nil {
		return DescriptorInfo{}, ServiceBuilding, h, err
	}
	return d.info(), svc.status, h, nil
}

func (r *Registry) setStatus(h ServiceHandle, status ServiceStatus) error {
	svc, err := r.service(h)
	if err != nil {
		return err
	}
	svc.status = status
	return nil
}

func (r *Registry) resolve(h CharacteristicHandle) (CharacteristicHandle, error) {
	uuid, err := NormalizeUUID(h.UUID)
	if err != nil {
		return h, newError(KindUnknownCharacteristic, "%v", err)
	}
	if h.Service != "" {
		svc, err := NormalizeUUID(h.Service)
		if err != nil {
			return h, newError(KindUnknownService, "%v", err)
		}
		return CharacteristicHandle{Service: svc, UUID: uuid}, nil
	}

	for pair := r.services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.status != ServicePublished {
			continue
		}
		if _, ok := pair.Value.chars.Get(uuid); ok {
			return CharacteristicHandle{Service: pair.Key, UUID: uuid}, nil
		}
	}
	return CharacteristicHandle{UUID: uuid}, newError(KindUnknownCharacteristic, "characteristic %q not found in any published service", uuid)
}

func (r *Registry) service(h ServiceHandle) (*service, error) {
	key, err := NormalizeUUID(string(h))
	if err != nil {
		return nil, newError(KindUnknownService, "%v", err)
	}
	svc, ok := r.services.Get(key)
	if !ok {
		return nil, newError(KindUnknownService, "service %q not found", key)
	}
	return svc, nil
}

func (r *Registry) characteristic(h CharacteristicHandle) (*service, *characteristic, error) {
	svc, err := r.service(ServiceHandle(h.Service))
	if err != nil {
		return nil, nil, err
	}
	key, err := NormalizeUUID(h.UUID)
	if err != nil {
		return nil, nil, newError(KindUnknownCharacteristic, "%v", err)
	}
	c, ok := svc.chars.Get(key)
	if !ok {
		return nil, nil, newError(KindUnknownCharacteristic, "characteristic %q not found in service %q", key, svc.uuid)
	}
	return svc, c, nil
}

func (r *Registry) descriptor(h DescriptorHandle) (*service, *descriptor, error) {
	svc, c, err := r.characteristic(h.Parent())
	if err != nil {
		return nil, nil, err
	}
	key, err := NormalizeUUID(h.UUID)
	if err != nil {
		return nil, nil, newError(KindUnknownDescriptor, "%v", err)
	}
	d, ok := c.descs.Get(key)
	if !ok {
		return nil, nil, newError(KindUnknownDescriptor, "descriptor %q not found in characteristic %q", key, c.uuid)
	}
	return svc, d, nil
}

func newCharacteristic(spec CharacteristicSpec) (*characteristic, error) {
	uuid, err := NormalizeUUID(spec.UUID)
	if err != nil {
		return nil, newError(KindMalformedDeclaration, "characteristic: %v", err)
	}
	if spec.Properties == 0 {
		return nil, newError(KindMalformedDeclaration, "characteristic %q: no properties", uuid)
	}
	if spec.Permissions&^permAll != 0 {
		return nil, newError(KindMalformedDeclaration, "characteristic %q: unsupported permission bits 0x%x", uuid, uint8(spec.Permissions))
	}

	c := &characteristic{
		uuid:  uuid,
		props: spec.Properties,
		perms: spec.Permissions,
		value: cloneBytes(spec.Value),
		descs: orderedmap.New[string, *descriptor](),
	}
	for _, ds := range spec.Descriptors {
		d, err := newDescriptor(ds)
		if err != nil {
			return nil, fmt.Errorf("characteristic %q: %w", uuid, err)
		}
		if _, exists := c.descs.Get(d.uuid); exists {
			return nil, newError(KindDuplicateIdentifier, "descriptor %q declared twice in characteristic %q", d.uuid, uuid)
		}
		c.descs.Set(d.uuid, d)
	}
	return c, nil
}

func newDescriptor(spec DescriptorSpec) (*descriptor, error) {
	uuid, err := NormalizeUUID(spec.UUID)
	if err != nil {
		return nil, newError(KindMalformedDeclaration, "descriptor: %v", err)
	}
	if uuid == cccdUUID {
		return nil, newError(KindMalformedDeclaration, "descriptor %q is managed by the stack", uuid)
	}
	if spec.Permissions&^permAll != 0 {
		return nil, newError(KindMalformedDeclaration, "descriptor %q: unsupported permission bits 0x%x", uuid, uint8(spec.Permissions))
	}
	return &descriptor{uuid: uuid, value: cloneBytes(spec.Value), perms: spec.Permissions}, nil
}

func (s *service) graph() ServiceGraph {
	g := ServiceGraph{
		UUID:            s.uuid,
		Primary:         s.primary,
		Status:          s.status,
		Characteristics: make([]CharacteristicInfo, 0, s.chars.Len()),
	}
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		g.Characteristics = append(g.Characteristics, pair.Value.info())
	}
	return g
}

func (c *characteristic) info() CharacteristicInfo {
	info := CharacteristicInfo{
		UUID:        c.uuid,
		Properties:  c.props,
		Permissions: c.perms,
		Value:       cloneBytes(c.value),
		Descriptors: make([]DescriptorInfo, 0, c.descs.Len()),
	}
	for pair := c.descs.Oldest(); pair != nil; pair = pair.Next() {
		info.Descriptors = append(info.Descriptors, pair.Value.info())
	}
	return info
}

func (d *descriptor) info() DescriptorInfo {
	return DescriptorInfo{UUID: d.uuid, Value: cloneBytes(d.value), Permissions: d.perms}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
