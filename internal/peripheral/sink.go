package peripheral

import (
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/blimp/internal/ringchan"
)

// CallbackHandle is the opaque application token a notification is addressed to
type CallbackHandle string

// Category names a listener slot
type Category string

const (
	CategoryStateChanged      Category = "stateChanged"
	CategoryValueChanged      Category = "valueChanged"
	CategoryDescriptorChanged Category = "descriptorChanged"
	CategoryWriteRequest      Category = "writeRequest"
)

// Categories lists every listener slot
var Categories = []Category{
	CategoryStateChanged,
	CategoryValueChanged,
	CategoryDescriptorChanged,
	CategoryWriteRequest,
}

// Notification is one event delivered to an application listener.
// Payload is one of StatePayload, ValueChange, DescriptorChange or WriteRequestInfo.
type Notification struct {
	Handle   CallbackHandle `json:"handle"`
	Category Category       `json:"category"`
	Payload  interface{}    `json:"payload"`
}

// StatePayload is delivered to the state-changed listener
type StatePayload struct {
	State State `json:"state"`
}

// ValueChange is delivered to the value-changed listener after a remote write was applied
type ValueChange struct {
	Characteristic CharacteristicHandle `json:"characteristic"`
	Central        string               `json:"central,omitempty"`
	Value          []byte               `json:"value"`
}

// DescriptorChange is delivered to the descriptor-changed listener
type DescriptorChange struct {
	Descriptor DescriptorHandle `json:"descriptor"`
	Central    string           `json:"central,omitempty"`
	Value      []byte           `json:"value"`
}

// WriteRequestInfo is delivered to the write-request listener; answer it with RespondToRequest
type WriteRequestInfo struct {
	ID             RequestID            `json:"requestId"`
	Central        string               `json:"central,omitempty"`
	Characteristic CharacteristicHandle `json:"characteristic"`
	Offset         int                  `json:"offset"`
	Value          []byte               `json:"value"`
}

// Sink receives notifications from the peripheral event loop. Deliver must not block.
type Sink interface {
	Deliver(n Notification)
}

// FuncSink adapts a function to Sink. The function runs on the event loop.
type FuncSink func(n Notification)

// Deliver calls f(n)
func (f FuncSink) Deliver(n Notification) { f(n) }

// ChannelSink buffers notifications for a polling consumer. When the consumer falls
// behind, the oldest notification is dropped and kept in a small history for diagnostics.
type ChannelSink struct {
	ch      *ringchan.RingChannel[Notification]
	mu      sync.Mutex
	dropped mpmc.RichOverlappedRingBuffer[Notification]
}

// NewChannelSink creates a sink holding up to capacity undelivered notifications
// and remembering the last history dropped ones.
func NewChannelSink(capacity int, history uint32) *ChannelSink {
	if history == 0 {
		history = 1
	}
	return &ChannelSink{
		ch:      ringchan.New[Notification](capacity),
		dropped: mpmc.NewOverlappedRingBuffer[Notification](history),
	}
}

// Deliver enqueues n, dropping the oldest pending notification if the buffer is full
func (s *ChannelSink) Deliver(n Notification) {
	old, overwritten := s.ch.Send(n)
	if !overwritten {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.dropped.EnqueueM(old)
}

// C returns the notification stream. It is closed by Close.
func (s *ChannelSink) C() <-chan Notification {
	return s.ch.C()
}

// DrainDropped returns and forgets the remembered dropped notifications, oldest first
func (s *ChannelSink) DrainDropped() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Notification
	for !s.dropped.IsEmpty() {
		n, err := s.dropped.Dequeue()
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// Metrics returns the delivery counters of the underlying ring channel
func (s *ChannelSink) Metrics() ringchan.Metrics {
	return s.ch.GetMetrics()
}

// Close ends the stream; later deliveries are discarded
func (s *ChannelSink) Close() {
	s.ch.Close()
}
