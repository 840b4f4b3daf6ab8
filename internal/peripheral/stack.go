package peripheral

import (
	"github.com/go-ble/ble"
)

// RequestID is the stack-assigned identifier of a remote read/write request
type RequestID uint64

// Status is the ATT response status sent back to a central
type Status = ble.ATTError

const (
	StatusSuccess            = ble.ErrSuccess
	StatusReadNotPermitted   = ble.ErrReadNotPerm
	StatusWriteNotPermitted  = ble.ErrWriteNotPerm
	StatusInvalidOffset      = ble.ErrInvalidOffset
	StatusAttributeNotFound  = ble.ErrAttrNotFound
	StatusUnlikely           = ble.ErrUnlikely
	StatusInsufficientMemory = ble.ErrInsuffResources
)

// Advertisement is the payload handed to the stack when advertising starts
type Advertisement struct {
	LocalName    string   `json:"localName,omitempty" yaml:"local_name"`
	ServiceUUIDs []string `json:"services,omitempty" yaml:"services"`
}

// Stack is the BLE stack boundary: the radio and GATT server primitives.
//
// Implementations deliver inbound events through the handler given to Attach, in
// delivery order, from any goroutine. Completion callbacks (done) are invoked exactly
// once and may be invoked from any goroutine. No method may block on the radio.
type Stack interface {
	// Attach installs the inbound event handler. It is called once, before any other method.
	Attach(handler func(StackEvent))

	// RequestStatePoll asks the stack to report its current power state as a StateChanged event.
	RequestStatePoll()

	// SubmitService registers a fully built service subtree.
	SubmitService(graph ServiceGraph, done func(error))

	// BeginAdvertising starts advertising; done reports whether it started.
	BeginAdvertising(adv Advertisement, done func(error))

	StopAdvertising()

	// RespondToRequest answers a pending remote request.
	RespondToRequest(id RequestID, status Status, value []byte)

	// Notify pushes a value to the subscribed centrals of a characteristic.
	Notify(h CharacteristicHandle, value []byte, centrals []string) error

	Close() error
}

// StackEvent is an inbound event from the stack
type StackEvent interface {
	stackEvent()
}

// StateChanged reports a new power state
type StateChanged struct {
	State State
}

// ReadRequest is a remote read of a characteristic or, when Descriptor is set, of a descriptor
type ReadRequest struct {
	ID             RequestID
	Central        string
	Characteristic CharacteristicHandle
	Descriptor     string
	Offset         int
}

// WriteRequest is a remote write. ResponseNeeded is false for write-without-response.
type WriteRequest struct {
	ID             RequestID
	Central        string
	Characteristic CharacteristicHandle
	Descriptor     string
	Offset         int
	Value          []byte
	ResponseNeeded bool
}

// Subscribe reports a central enabling notifications or indications
type Subscribe struct {
	Central        string
	Characteristic CharacteristicHandle
}

// Unsubscribe reports a central disabling notifications or indications
type Unsubscribe struct {
	Central        string
	Characteristic CharacteristicHandle
}

// CentralDisconnected reports a dropped link
type CentralDisconnected struct {
	Central string
}

// AdvertisingStopped reports that the stack stopped advertising on its own
type AdvertisingStopped struct {
	Reason error
}

func (StateChanged) stackEvent()        {}
func (ReadRequest) stackEvent()         {}
func (WriteRequest) stackEvent()        {}
func (Subscribe) stackEvent()           {}
func (Unsubscribe) stackEvent()         {}
func (CentralDisconnected) stackEvent() {}
func (AdvertisingStopped) stackEvent()  {}
