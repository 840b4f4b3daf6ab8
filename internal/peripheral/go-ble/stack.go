package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

// Options tunes the go-ble stack adapter. Zero fields take the `default` tag value.
type Options struct {
	// ResponseTimeout bounds how long a go-ble read/write handler waits for the peripheral's answer.
	// It should exceed the peripheral request timeout so the peripheral expires requests first.
	ResponseTimeout time.Duration `default:"35s"`

	// AdvertiseSettle is how long advertising must keep running before a start counts as successful.
	AdvertiseSettle time.Duration `default:"250ms"`
}

type response struct {
	status peripheral.Status
	value  []byte
}

// Stack implements peripheral.Stack on top of a go-ble device.
//
// go-ble invokes attribute handlers on its own goroutines and expects them to answer
// synchronously, so each handler parks on a response channel until the peripheral
// calls RespondToRequest.
type Stack struct {
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dev     ble.Device
	handler func(peripheral.StackEvent)
	advStop context.CancelFunc
	closed  bool

	nextID    atomic.Uint64
	responses *hashmap.Map[peripheral.RequestID, chan response]
	notifiers *hashmap.Map[string, ble.Notifier]
	centrals  *hashmap.Map[string, ble.Conn]
}

// New creates an adapter; the BLE device is opened lazily on the first state poll.
// A nil opts takes the defaults.
func New(logger *logrus.Logger, opts *Options) *Stack {
	var o Options
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stack{
		opts:      o,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		responses: hashmap.New[peripheral.RequestID, chan response](),
		notifiers: hashmap.New[string, ble.Notifier](),
		centrals:  hashmap.New[string, ble.Conn](),
	}
}

func (s *Stack) Attach(handler func(peripheral.StackEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// RequestStatePoll opens the device if needed and reports the resulting power state.
// go-ble has no state notifications, so the state is derived from whether the device opens.
func (s *Stack) RequestStatePoll() {
	groutine.Go(s.ctx, "ble-state-poll", func(ctx context.Context) {
		_, err := s.device()
		state := StateOf(err)
		if err != nil {
			s.logger.WithError(err).WithField("state", state).Warn("BLE device unavailable")
		} else {
			s.logger.Debug("BLE device opened")
		}
		s.emit(peripheral.StateChanged{State: state})
	})
}

func (s *Stack) device() (ble.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStackClosed
	}
	if s.dev != nil {
		return s.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	s.dev = dev
	return dev, nil
}

func (s *Stack) emit(ev peripheral.StackEvent) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (s *Stack) SubmitService(g peripheral.ServiceGraph, done func(error)) {
	groutine.Go(s.ctx, "ble-add-service", func(ctx context.Context) {
		dev, err := s.device()
		if err != nil {
			done(err)
			return
		}
		svc, err := s.buildService(g)
		if err != nil {
			done(err)
			return
		}
		if err := dev.AddService(svc); err != nil {
			done(NormalizeError(err))
			return
		}
		s.logger.WithFields(logrus.Fields{
			"service":         g.UUID,
			"characteristics": len(g.Characteristics),
		}).Debug("Service added to BLE device")
		done(nil)
	})
}

func (s *Stack) RespondToRequest(id peripheral.RequestID, status peripheral.Status, value []byte) {
	ch, ok := s.responses.Get(id)
	if !ok {
		s.logger.WithField("request", id).Warn("No BLE handler is waiting for this request")
		return
	}
	select {
	case ch <- response{status: status, value: value}:
	default:
		s.logger.WithField("request", id).Warn("BLE request already answered")
	}
}

// Notify writes value to the notifier of every listed central subscribed to h
func (s *Stack) Notify(h peripheral.CharacteristicHandle, value []byte, centrals []string) error {
	var errs []error
	for _, c := range centrals {
		n, ok := s.notifiers.Get(notifierKey(h, c))
		if !ok {
			continue
		}
		if _, err := n.Write(value); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", c, NormalizeError(err)))
		}
	}
	return errors.Join(errs...)
}

// Close stops advertising, releases parked handlers and stops the device
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.advStop != nil {
		s.advStop()
		s.advStop = nil
	}
	dev := s.dev
	s.mu.Unlock()

	s.cancel()
	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

// open registers a response channel for a new request and returns the wait function
func (s *Stack) open() (peripheral.RequestID, func() response) {
	id := peripheral.RequestID(s.nextID.Add(1))
	ch := make(chan response, 1)
	s.responses.Set(id, ch)

	return id, func() response {
		defer s.responses.Del(id)

		timer := time.NewTimer(s.opts.ResponseTimeout)
		defer timer.Stop()
		select {
		case r := <-ch:
			return r
		case <-timer.C:
			s.logger.WithField("request", id).Warn("Peripheral did not answer BLE request in time")
		case <-s.ctx.Done():
		}
		return response{status: peripheral.StatusUnlikely}
	}
}

// track remembers a central connection and reports its disconnection once
func (s *Stack) track(conn ble.Conn) string {
	if conn == nil {
		return ""
	}
	addr := conn.RemoteAddr().String()
	if _, loaded := s.centrals.GetOrInsert(addr, conn); loaded {
		return addr
	}

	s.logger.WithField("central", addr).Info("Central connected")
	groutine.Go(s.ctx, "ble-central-monitor", func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
			s.centrals.Del(addr)
			s.emit(peripheral.CentralDisconnected{Central: addr})
		case <-ctx.Done():
		}
	})
	return addr
}

func notifierKey(h peripheral.CharacteristicHandle, central string) string {
	return h.String() + "@" + central
}
