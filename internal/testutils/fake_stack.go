package testutils

import (
	"errors"
	"sync"

	"github.com/srg/blimp/internal/peripheral"
)

// StackResponse is one answer the peripheral sent to a remote request
type StackResponse struct {
	ID     peripheral.RequestID
	Status peripheral.Status
	Value  []byte
}

// StackNotification is one Notify call
type StackNotification struct {
	Characteristic peripheral.CharacteristicHandle
	Value          []byte
	Centrals       []string
}

// FakeStack is a scripted peripheral.Stack. Tests drive inbound events with Emit/SetState
// and inspect what the peripheral asked of the stack.
//
// By default SubmitService and BeginAdvertising complete immediately with PublishErr /
// AdvertiseErr. With HoldCompletions set they stay outstanding until CompletePublish /
// CompleteAdvertise.
type FakeStack struct {
	mu sync.Mutex

	handler      func(peripheral.StackEvent)
	initialState peripheral.State

	PublishErr      error
	AdvertiseErr    error
	NotifyErr       error
	HoldCompletions bool

	submitted      []peripheral.ServiceGraph
	advertisements []peripheral.Advertisement
	responses      []StackResponse
	notifications  []StackNotification
	heldPublish    map[string]func(error)
	heldAdvertise  []func(error)
	stopCount      int
	polls          int
	closed         bool
}

// NewFakeStack creates a stack that reports initial on the first state poll.
// StateUnknown means the poll is not answered.
func NewFakeStack(initial peripheral.State) *FakeStack {
	return &FakeStack{
		initialState: initial,
		heldPublish:  make(map[string]func(error)),
	}
}

func (f *FakeStack) Attach(handler func(peripheral.StackEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *FakeStack) RequestStatePoll() {
	f.mu.Lock()
	f.polls++
	state := f.initialState
	f.mu.Unlock()

	if state != peripheral.StateUnknown {
		f.Emit(peripheral.StateChanged{State: state})
	}
}

func (f *FakeStack) SubmitService(graph peripheral.ServiceGraph, done func(error)) {
	f.mu.Lock()
	f.submitted = append(f.submitted, graph)
	if f.HoldCompletions {
		f.heldPublish[graph.UUID] = done
		f.mu.Unlock()
		return
	}
	err := f.PublishErr
	f.mu.Unlock()
	done(err)
}

func (f *FakeStack) BeginAdvertising(adv peripheral.Advertisement, done func(error)) {
	f.mu.Lock()
	f.advertisements = append(f.advertisements, adv)
	if f.HoldCompletions {
		f.heldAdvertise = append(f.heldAdvertise, done)
		f.mu.Unlock()
		return
	}
	err := f.AdvertiseErr
	f.mu.Unlock()
	done(err)
}

func (f *FakeStack) StopAdvertising() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
}

func (f *FakeStack) RespondToRequest(id peripheral.RequestID, status peripheral.Status, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, StackResponse{ID: id, Status: status, Value: value})
}

func (f *FakeStack) Notify(h peripheral.CharacteristicHandle, value []byte, centrals []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyErr != nil {
		return f.NotifyErr
	}
	f.notifications = append(f.notifications, StackNotification{Characteristic: h, Value: value, Centrals: centrals})
	return nil
}

func (f *FakeStack) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Emit delivers an inbound event as the radio would
func (f *FakeStack) Emit(ev peripheral.StackEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// SetState emits a power state change
func (f *FakeStack) SetState(s peripheral.State) {
	f.Emit(peripheral.StateChanged{State: s})
}

// CompletePublish finishes a held SubmitService for the service UUID
func (f *FakeStack) CompletePublish(serviceUUID string, err error) error {
	f.mu.Lock()
	done, ok := f.heldPublish[serviceUUID]
	delete(f.heldPublish, serviceUUID)
	f.mu.Unlock()
	if !ok {
		return errors.New("no held publication for " + serviceUUID)
	}
	done(err)
	return nil
}

// CompleteAdvertise finishes the oldest held BeginAdvertising
func (f *FakeStack) CompleteAdvertise(err error) error {
	f.mu.Lock()
	if len(f.heldAdvertise) == 0 {
		f.mu.Unlock()
		return errors.New("no held advertising start")
	}
	done := f.heldAdvertise[0]
	f.heldAdvertise = f.heldAdvertise[1:]
	f.mu.Unlock()
	done(err)
	return nil
}

// Submitted returns the service graphs handed to the stack
func (f *FakeStack) Submitted() []peripheral.ServiceGraph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peripheral.ServiceGraph(nil), f.submitted...)
}

// Advertisements returns every BeginAdvertising payload
func (f *FakeStack) Advertisements() []peripheral.Advertisement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peripheral.Advertisement(nil), f.advertisements...)
}

// Responses returns every request answer
func (f *FakeStack) Responses() []StackResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StackResponse(nil), f.responses...)
}

// Response returns the answers given to one request id
func (f *FakeStack) Response(id peripheral.RequestID) []StackResponse {
	var out []StackResponse
	for _, r := range f.Responses() {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// Notifications returns every Notify call
func (f *FakeStack) Notifications() []StackNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StackNotification(nil), f.notifications...)
}

// StopCount returns the number of StopAdvertising calls
func (f *FakeStack) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCount
}

// Closed reports whether Close was called
func (f *FakeStack) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
