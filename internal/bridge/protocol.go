package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/blimp/internal/peripheral"
)

// Action names accepted on the host boundary
const (
	ActionCreateService           = "createService"
	ActionCreateServiceFromJSON   = "createServiceFromJSON"
	ActionCreateServiceFromDecl   = "createServiceFromDeclaration"
	ActionAddCharacteristic       = "addCharacteristic"
	ActionAddService              = "addService"
	ActionPublishService          = "publishService"
	ActionSetCharacteristicValue  = "setCharacteristicValue"
	ActionStartAdvertising        = "startAdvertising"
	ActionStopAdvertising         = "stopAdvertising"
	ActionRespondToRequest        = "respondToRequest"
	ActionGetState                = "getState"
	ActionGetServices             = "getServices"
	ActionSetValueChangedListener = "setCharacteristicValueChangedListener"
	ActionSetDescriptorListener   = "setDescriptorValueChangedListener"
	ActionSetStateChangedListener = "setBluetoothStateChangedListener"
	ActionSetWriteRequestListener = "setWriteRequestListener"
)

// Error kinds produced by the bridge itself, next to the peripheral error kinds
const (
	KindBadRequest    = "bad_request"
	KindUnknownAction = "unknown_action"
	KindClosed        = "closed"
	KindInternal      = "internal"
)

// Command is one inbound JSON line. ID is echoed verbatim in every result for the command;
// for listener registrations it also addresses the notifications.
type Command struct {
	ID     json.RawMessage `json:"id"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Result is one outbound JSON line. Keep is true for listener deliveries, which may repeat.
type Result struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Keep   bool            `json:"keep"`
	Result interface{}     `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a failed command
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type createServiceArgs struct {
	UUID    string `json:"uuid"`
	Primary *bool  `json:"primary,omitempty"`
}

type serviceArgs struct {
	Service string `json:"service"`
}

type addCharacteristicArgs struct {
	Service string `json:"service"`
	peripheral.CharacteristicDeclaration
}

type setValueArgs struct {
	Service        string                   `json:"service,omitempty"`
	Characteristic string                   `json:"characteristic"`
	Value          peripheral.DeclaredValue `json:"value"`
}

type respondArgs struct {
	RequestID peripheral.RequestID     `json:"requestId"`
	Status    ResponseStatus           `json:"status"`
	Value     peripheral.DeclaredValue `json:"value,omitempty"`
}

// ResponseStatus is an ATT status given either by number or by name
type ResponseStatus peripheral.Status

var statusNames = map[string]peripheral.Status{
	"success":               peripheral.StatusSuccess,
	"readnotpermitted":      peripheral.StatusReadNotPermitted,
	"writenotpermitted":     peripheral.StatusWriteNotPermitted,
	"invalidoffset":         peripheral.StatusInvalidOffset,
	"attributenotfound":     peripheral.StatusAttributeNotFound,
	"unlikely":              peripheral.StatusUnlikely,
	"insufficientresources": peripheral.StatusInsufficientMemory,
}

// UnmarshalJSON accepts 0x80 style numbers or names like "writeNotPermitted"
func (s *ResponseStatus) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n > 0xff {
			return fmt.Errorf("status %d out of range", n)
		}
		*s = ResponseStatus(n)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("status must be a number or a name: %w", err)
	}
	st, ok := statusNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown status %q", name)
	}
	*s = ResponseStatus(st)
	return nil
}

type serviceResult struct {
	Service peripheral.ServiceHandle `json:"service"`
}

type characteristicResult struct {
	Characteristic peripheral.CharacteristicHandle `json:"characteristic"`
}

type stateResult struct {
	State peripheral.State `json:"state"`
	Phase string           `json:"phase"`
}

// badRequest marks argument decoding failures
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return badRequest{fmt.Errorf("missing args")}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest{fmt.Errorf("invalid args: %w", err)}
	}
	return nil
}
