package peripheral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/groutine"
)

type queuedOp struct {
	name string
	run  func()
	fail func(error)
}

// Peripheral is the GATT server state machine. Every registry mutation, publication,
// advertising change and stack event is serialized on a single event loop goroutine;
// public methods post work to it and wait for the result.
type Peripheral struct {
	stack   Stack
	opts    Options
	logger  *logrus.Logger
	ownSink *ChannelSink

	box       *mailbox
	cancel    context.CancelFunc
	done      <-chan struct{}
	closeOnce sync.Once
	closeErr  error

	// read without the loop
	stateSnap atomic.Int32

	// loop-confined
	state    State
	registry *Registry
	router   *Router
	pending  *pendingTable
	subs     *subscriptions
	queued   []queuedOp
	adv      advertising
	seq      uint64
}

// New attaches a peripheral to the stack, starts its event loop and asks the stack
// for its current power state. The peripheral starts in StateUnknown.
func New(stack Stack, opts ...Option) (*Peripheral, error) {
	if stack == nil {
		return nil, fmt.Errorf("stack cannot be nil")
	}

	o, ownSink := buildOptions(opts)
	p := &Peripheral{
		stack:    stack,
		opts:     o,
		logger:   o.Logger,
		box:      newMailbox(),
		state:    StateUnknown,
		registry: NewRegistry(),
		router:   NewRouter(o.Sink, o.Logger),
		subs:     newSubscriptions(),
		ownSink:  ownSink,
	}
	p.pending = newPendingTable(o.RequestTimeout, func(fn func()) { _ = p.box.post(fn) })

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = groutine.Go(ctx, "peripheral-loop", p.run)

	stack.Attach(func(ev StackEvent) {
		if err := p.box.post(func() { p.handleStackEvent(ev) }); err != nil {
			p.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Stack event after close, ignored")
		}
	})
	stack.RequestStatePoll()

	return p, nil
}

func (p *Peripheral) run(ctx context.Context) {
	for {
		select {
		case <-p.box.signal:
			for _, fn := range p.box.take() {
				fn()
			}
		case <-ctx.Done():
			for _, fn := range p.box.close() {
				fn()
			}
			p.shutdown()
			return
		}
	}
}

func (p *Peripheral) shutdown() {
	closed := ErrClosed
	p.failQueued(closed)
	p.router.FailAll(opPublish, closed)
	p.router.FailAll(opAdvertise, closed)
	if n := p.rejectPending(); n > 0 {
		p.logger.WithField("count", n).Warn("Rejected unanswered requests on close")
	}
	if p.adv.active {
		p.stack.StopAdvertising()
		p.adv.active = false
	}
	p.closeErr = p.stack.Close()
	if p.ownSink != nil {
		p.ownSink.Close()
	}
	p.logger.Info("Peripheral closed")
}

// Close stops the event loop, fails outstanding operations with ErrClosed and closes the stack
func (p *Peripheral) Close() error {
	p.closeOnce.Do(p.cancel)
	<-p.done
	return p.closeErr
}

// Notifications returns the stream of the default ChannelSink, or nil when a custom sink was given
func (p *Peripheral) Notifications() <-chan Notification {
	if p.ownSink == nil {
		return nil
	}
	return p.ownSink.C()
}

// Sink returns the notification sink in use
func (p *Peripheral) Sink() Sink {
	return p.opts.Sink
}

// State returns the last power state reported by the stack
func (p *Peripheral) State() State {
	return State(p.stateSnap.Load())
}

func (p *Peripheral) setState(s State) {
	p.state = s
	p.stateSnap.Store(int32(s))
}

// call runs fn on the event loop and waits for its result
func (p *Peripheral) call(fn func() error) error {
	res := make(chan error, 1)
	if err := p.box.post(func() { res <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-p.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// await starts an asynchronous operation on the event loop and waits until it resolves.
// A cancelled ctx only stops the wait; the operation still completes.
func (p *Peripheral) await(ctx context.Context, start func(resolve func(error))) error {
	res := make(chan error, 1)
	var once sync.Once
	resolve := func(err error) {
		once.Do(func() { res <- err })
	}
	if err := p.box.post(func() { start(resolve) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

func (p *Peripheral) nextCorrelation(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s#%d", prefix, p.seq)
}

// whenReady runs op now if powered on, queues it while the state is undetermined,
// and fails it with StackNotReady otherwise.
func (p *Peripheral) whenReady(name string, run func(), fail func(error)) {
	switch {
	case p.state.Ready():
		run()
	case !p.state.settled():
		p.logger.WithFields(logrus.Fields{"op": name, "state": p.state}).Debug("Stack state undetermined, queueing")
		p.queued = append(p.queued, queuedOp{name: name, run: run, fail: fail})
	default:
		fail(newError(KindStackNotReady, "bluetooth is %s", p.state))
	}
}

func (p *Peripheral) flushQueued() {
	ops := p.queued
	p.queued = nil
	for _, op := range ops {
		p.logger.WithField("op", op.name).Debug("Submitting queued operation")
		op.run()
	}
}

func (p *Peripheral) failQueued(err error) {
	ops := p.queued
	p.queued = nil
	for _, op := range ops {
		op.fail(err)
	}
}

// ----------------------------
// Registry surface
// ----------------------------

// CreateService declares a service in building state
func (p *Peripheral) CreateService(uuid string, primary bool) (ServiceHandle, error) {
	var h ServiceHandle
	err := p.call(func() (err error) {
		h, err = p.registry.CreateService(uuid, primary)
		return err
	})
	return h, err
}

// CreateServiceFromDeclaration declares a whole service subtree from a JSON or YAML document
func (p *Peripheral) CreateServiceFromDeclaration(data []byte) (ServiceHandle, error) {
	decl, err := ParseDeclaration(data)
	if err != nil {
		return "", err
	}
	return p.DeclareService(decl)
}

// DeclareService declares an already parsed service subtree
func (p *Peripheral) DeclareService(decl *ServiceDeclaration) (ServiceHandle, error) {
	var h ServiceHandle
	err := p.call(func() (err error) {
		h, err = p.registry.CreateServiceFromDeclaration(decl)
		return err
	})
	return h, err
}

// AddService declares a service from a document and publishes it
func (p *Peripheral) AddService(ctx context.Context, data []byte) (ServiceHandle, error) {
	h, err := p.CreateServiceFromDeclaration(data)
	if err != nil {
		return "", err
	}
	return h, p.PublishService(ctx, h)
}

// AddCharacteristic attaches a characteristic to a building service
func (p *Peripheral) AddCharacteristic(svc ServiceHandle, spec CharacteristicSpec) (CharacteristicHandle, error) {
	var h CharacteristicHandle
	err := p.call(func() (err error) {
		h, err = p.registry.AddCharacteristic(svc, spec)
		return err
	})
	return h, err
}

// AddDescriptor attaches a descriptor to a characteristic of a building service
func (p *Peripheral) AddDescriptor(char CharacteristicHandle, spec DescriptorSpec) (DescriptorHandle, error) {
	var h DescriptorHandle
	err := p.call(func() (err error) {
		h, err = p.registry.AddDescriptor(char, spec)
		return err
	})
	return h, err
}

// Services returns snapshots of all declared services
func (p *Peripheral) Services() []ServiceGraph {
	var out []ServiceGraph
	_ = p.call(func() error {
		out = p.registry.Services()
		return nil
	})
	return out
}

// Graph returns a snapshot of one service
func (p *Peripheral) Graph(h ServiceHandle) (ServiceGraph, error) {
	var g ServiceGraph
	err := p.call(func() (err error) {
		g, err = p.registry.Graph(h)
		return err
	})
	return g, err
}

// CharacteristicValue returns the current value of a characteristic
func (p *Peripheral) CharacteristicValue(h CharacteristicHandle) ([]byte, error) {
	var v []byte
	err := p.call(func() (err error) {
		var info CharacteristicInfo
		info, _, _, err = p.registry.Lookup(h)
		v = info.Value
		return err
	})
	return v, err
}

// Phase reports what the peripheral is busy with
func (p *Peripheral) Phase() Phase {
	phase := PhaseIdle
	_ = p.call(func() error {
		switch {
		case p.adv.active:
			phase = PhaseAdvertising
		case p.router.Pending(opPublish) > 0:
			phase = PhasePublishing
		}
		return nil
	})
	return phase
}

// ----------------------------
// Listener surface
// ----------------------------

// SetStateChangedListener registers h for power state changes; h receives the current state right away
func (p *Peripheral) SetStateChangedListener(h CallbackHandle) error {
	return p.call(func() error {
		p.router.SetListener(CategoryStateChanged, h)
		if h != "" {
			p.router.Dispatch(CategoryStateChanged, StatePayload{State: p.state})
		}
		return nil
	})
}

// SetValueChangedListener registers h for applied remote characteristic writes
func (p *Peripheral) SetValueChangedListener(h CallbackHandle) error {
	return p.setListener(CategoryValueChanged, h)
}

// SetDescriptorChangedListener registers h for remote descriptor writes
func (p *Peripheral) SetDescriptorChangedListener(h CallbackHandle) error {
	return p.setListener(CategoryDescriptorChanged, h)
}

// SetWriteRequestListener registers h for write requests. While it is set, remote writes
// wait for RespondToRequest instead of being applied automatically.
func (p *Peripheral) SetWriteRequestListener(h CallbackHandle) error {
	return p.setListener(CategoryWriteRequest, h)
}

func (p *Peripheral) setListener(c Category, h CallbackHandle) error {
	return p.call(func() error {
		p.router.SetListener(c, h)
		return nil
	})
}

// ----------------------------
// Stack events
// ----------------------------

func (p *Peripheral) handleStackEvent(ev StackEvent) {
	switch e := ev.(type) {
	case StateChanged:
		p.onStateChanged(e.State)
	case ReadRequest:
		p.onRead(e)
	case WriteRequest:
		p.onWrite(e)
	case Subscribe:
		p.onSubscribe(e)
	case Unsubscribe:
		p.onUnsubscribe(e)
	case CentralDisconnected:
		p.onDisconnect(e)
	case AdvertisingStopped:
		p.onAdvertisingStopped(e)
	default:
		p.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unsupported stack event")
	}
}

func (p *Peripheral) onStateChanged(s State) {
	prev := p.state
	if prev == s {
		return
	}
	p.setState(s)
	p.logger.WithFields(logrus.Fields{"from": prev, "to": s}).Info("Bluetooth state changed")
	p.router.Dispatch(CategoryStateChanged, StatePayload{State: s})

	if prev.Ready() && !s.Ready() {
		p.leavePoweredOn()
	}

	switch {
	case s.Ready():
		p.flushQueued()
	case s.settled():
		p.failQueued(newError(KindStackNotReady, "bluetooth is %s", s))
	}
}

func (p *Peripheral) leavePoweredOn() {
	notReady := newError(KindStackNotReady, "bluetooth is %s", p.state)
	if n := p.router.FailAll(opPublish, notReady); n > 0 {
		p.logger.WithField("count", n).Warn("Publications aborted by state change")
	}
	p.router.FailAll(opAdvertise, notReady)
	if p.adv.active {
		p.adv.active = false
		p.logger.Info("Advertising stopped by state change")
	}
	if n := p.rejectPending(); n > 0 {
		p.logger.WithField("count", n).Warn("Pending requests rejected by state change")
	}
	p.subs.clear()
}
