package peripheral

import (
	"time"
)

type pendingRequest struct {
	id      RequestID
	central string
	target  CharacteristicHandle
	value   []byte // full value to apply on success
	created time.Time
	timer   *time.Timer
	token   uint64
}

// pendingTable tracks remote writes awaiting an application answer.
// Owned by the event loop; timers only post back into it.
type pendingTable struct {
	requests map[RequestID]*pendingRequest
	timeout  time.Duration
	seq      uint64
	// post schedules expire on the event loop
	post func(func())
}

func newPendingTable(timeout time.Duration, post func(func())) *pendingTable {
	return &pendingTable{
		requests: make(map[RequestID]*pendingRequest),
		timeout:  timeout,
		post:     post,
	}
}

// add starts tracking r. onExpire runs on the event loop if r is still unanswered at the deadline.
func (t *pendingTable) add(r *pendingRequest, onExpire func(*pendingRequest)) error {
	if _, exists := t.requests[r.id]; exists {
		return newError(KindInternalProtocolError, "request %d already pending", r.id)
	}
	t.seq++
	token := t.seq
	r.token = token
	r.created = time.Now()
	t.requests[r.id] = r

	id := r.id
	r.timer = time.AfterFunc(t.timeout, func() {
		t.post(func() {
			cur, ok := t.requests[id]
			if !ok || cur.token != token {
				return
			}
			delete(t.requests, id)
			onExpire(cur)
		})
	})
	return nil
}

// take removes and returns the request, or an InternalProtocolError if it was never
// pending, already answered or expired.
func (t *pendingTable) take(id RequestID) (*pendingRequest, error) {
	r, ok := t.requests[id]
	if !ok {
		return nil, newError(KindInternalProtocolError, "request %d is not pending", id)
	}
	delete(t.requests, id)
	r.timer.Stop()
	return r, nil
}

// dropCentral forgets every request of a disconnected central
func (t *pendingTable) dropCentral(central string) []*pendingRequest {
	var out []*pendingRequest
	for id, r := range t.requests {
		if r.central == central {
			r.timer.Stop()
			delete(t.requests, id)
			out = append(out, r)
		}
	}
	return out
}

// drain removes every pending request
func (t *pendingTable) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(t.requests))
	for id, r := range t.requests {
		r.timer.Stop()
		delete(t.requests, id)
		out = append(out, r)
	}
	return out
}

func (t *pendingTable) len() int {
	return len(t.requests)
}
