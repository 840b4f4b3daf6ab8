package peripheral

import (
	"github.com/sirupsen/logrus"
)

// OperationKind groups one-shot result slots
type OperationKind string

const (
	opPublish   OperationKind = "publish"
	opAdvertise OperationKind = "advertise"
)

type slotKey struct {
	kind OperationKind
	id   string
}

// Router owns listener registrations and one-shot result slots.
// It is confined to the peripheral event loop and does no locking.
type Router struct {
	listeners map[Category]CallbackHandle
	slots     map[slotKey]func(error)
	// submitted slots have reached the stack, which owes them an outcome
	submitted map[slotKey]struct{}
	// retired slots were submitted, then failed locally; the stack may still report their outcome
	retired map[slotKey]struct{}
	sink    Sink
	logger  *logrus.Logger
}

// NewRouter creates a router delivering to sink. A nil sink drops everything.
func NewRouter(sink Sink, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		listeners: make(map[Category]CallbackHandle),
		slots:     make(map[slotKey]func(error)),
		submitted: make(map[slotKey]struct{}),
		retired:   make(map[slotKey]struct{}),
		sink:      sink,
		logger:    logger,
	}
}

// SetListener registers h for the category, silently replacing the previous handle.
// An empty handle clears the slot.
func (r *Router) SetListener(c Category, h CallbackHandle) {
	if h == "" {
		delete(r.listeners, c)
		return
	}
	if prev, ok := r.listeners[c]; ok && prev != h {
		r.logger.WithFields(logrus.Fields{
			"category": c,
			"previous": prev,
			"handle":   h,
		}).Debug("Listener replaced")
	}
	r.listeners[c] = h
}

// Listener returns the handle registered for the category
func (r *Router) Listener(c Category) (CallbackHandle, bool) {
	h, ok := r.listeners[c]
	return h, ok
}

// Dispatch delivers payload to the category listener. Returns false if nobody listens.
func (r *Router) Dispatch(c Category, payload interface{}) bool {
	h, ok := r.listeners[c]
	if !ok || r.sink == nil {
		r.logger.WithField("category", c).Debug("No listener, notification dropped")
		return false
	}
	r.sink.Deliver(Notification{Handle: h, Category: c, Payload: payload})
	return true
}

// Open creates a one-shot slot; resolve runs exactly once with the operation outcome.
func (r *Router) Open(kind OperationKind, id string, resolve func(error)) error {
	key := slotKey{kind, id}
	if _, exists := r.slots[key]; exists {
		return newError(KindInternalProtocolError, "%s %q already pending", kind, id)
	}
	delete(r.retired, key)
	r.slots[key] = resolve
	return nil
}

// MarkSubmitted records that the slot's operation was handed to the stack
func (r *Router) MarkSubmitted(kind OperationKind, id string) {
	key := slotKey{kind, id}
	if _, ok := r.slots[key]; ok {
		r.submitted[key] = struct{}{}
	}
}

// Resolve completes a slot. Resolving an unknown or already resolved slot is a protocol
// error; outcomes for slots retired by Fail are discarded.
func (r *Router) Resolve(kind OperationKind, id string, err error) error {
	key := slotKey{kind, id}
	resolve, ok := r.slots[key]
	if !ok {
		if _, retired := r.retired[key]; retired {
			delete(r.retired, key)
			r.logger.WithFields(logrus.Fields{"kind": kind, "id": id}).Debug("Discarding outcome of superseded operation")
			return nil
		}
		perr := newError(KindInternalProtocolError, "no pending %s %q to resolve", kind, id)
		r.logger.WithError(perr).Error("Unexpected stack completion")
		return perr
	}
	delete(r.slots, key)
	delete(r.submitted, key)
	resolve(err)
	return nil
}

// Fail resolves a slot locally with err. A submitted slot is retired so the late stack
// outcome is ignored; a slot the stack never saw is forgotten.
func (r *Router) Fail(kind OperationKind, id string, err error) bool {
	key := slotKey{kind, id}
	resolve, ok := r.slots[key]
	if !ok {
		return false
	}
	delete(r.slots, key)
	if _, ok := r.submitted[key]; ok {
		delete(r.submitted, key)
		r.retired[key] = struct{}{}
	}
	resolve(err)
	return true
}

// Retired returns the number of failed slots still expecting a stack outcome
func (r *Router) Retired() int {
	return len(r.retired)
}

// FailAll fails every open slot of the given kind
func (r *Router) FailAll(kind OperationKind, err error) int {
	var ids []string
	for key := range r.slots {
		if key.kind == kind {
			ids = append(ids, key.id)
		}
	}
	for _, id := range ids {
		r.Fail(kind, id, err)
	}
	return len(ids)
}

// IsOpen reports whether a slot is waiting for its outcome
func (r *Router) IsOpen(kind OperationKind, id string) bool {
	_, ok := r.slots[slotKey{kind, id}]
	return ok
}

// Pending returns the number of open slots of a kind
func (r *Router) Pending(kind OperationKind) int {
	n := 0
	for key := range r.slots {
		if key.kind == kind {
			n++
		}
	}
	return n
}
