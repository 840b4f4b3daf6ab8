// Package ringchan is a bounded channel whose producers never block: when it is full
// the oldest buffered value makes room for the new one.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel with drop-oldest sends.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type RingChannel[T any] struct {
	ch chan T

	// producers are serialized so the drop-then-push step is atomic
	mu     sync.Mutex
	closed bool

	written, overwritten, processed, rejected atomic.Int64
}

// Metrics is a snapshot of the channel counters
type Metrics struct {
	Written     int64 // values accepted by Send/TrySend
	Overwritten int64 // buffered values discarded to make room
	Processed   int64 // values taken with Receive/TryReceive
	Errors      int64 // sends after Close
}

// New creates a RingChannel; capacity must be positive.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads from it are not counted as processed.
func (rc *RingChannel[T]) C() <-chan T { return rc.ch }

// Send buffers v and returns the value it displaced, if any.
// After Close, v itself is reported as displaced.
func (rc *RingChannel[T]) Send(v T) (dropped T, overwritten bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		rc.rejected.Add(1)
		return v, true
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped, overwritten
		default:
		}
		// a reader may have taken a slot since the failed push
		select {
		case dropped = <-rc.ch:
			overwritten = true
			rc.overwritten.Add(1)
		default:
		}
	}
}

// TrySend buffers v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive waits for the next value; ok is false once the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	if v, ok = <-rc.ch; ok {
		rc.processed.Add(1)
	}
	return v, ok
}

// TryReceive returns the next value without waiting.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.processed.Add(1)
		}
	default:
	}
	return v, ok
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the channel; buffered values stay readable. Safe to call twice.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// GetMetrics returns the current counters
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Processed:   rc.processed.Load(),
		Errors:      rc.rejected.Load(),
	}
}
