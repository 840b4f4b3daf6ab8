package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

var nullID = json.RawMessage("null")

type actionFunc func(ctx context.Context, cmd Command) (interface{}, error)

type action struct {
	run actionFunc
	// async actions wait on the radio and run off the input loop
	async bool
	// keep marks listener registrations: the result and every later delivery carry keep=true
	keep bool
}

// Dispatcher executes host commands against a peripheral and writes one result line per
// outcome. Listener registrations use the command id as the callback handle, so every
// delivery for a listener echoes the id of the command that registered it.
type Dispatcher struct {
	p      *peripheral.Peripheral
	logger *logrus.Logger

	out     LineWriter
	started chan struct{}
	once    sync.Once
	// ackMu is held from a listener registration until its ack is written;
	// the forwarder takes it per delivery, so no notification overtakes the ack
	ackMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	actions map[string]action
}

// NewDispatcher creates a dispatcher for p. Nothing is written before Start.
func NewDispatcher(p *peripheral.Peripheral, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		p:       p,
		logger:  logger,
		started: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.actions = map[string]action{
		ActionCreateService:           {run: d.createService},
		ActionCreateServiceFromJSON:   {run: d.createServiceFromDeclaration},
		ActionCreateServiceFromDecl:   {run: d.createServiceFromDeclaration},
		ActionAddCharacteristic:       {run: d.addCharacteristic},
		ActionAddService:              {run: d.addService, async: true},
		ActionPublishService:          {run: d.publishService, async: true},
		ActionSetCharacteristicValue:  {run: d.setCharacteristicValue},
		ActionStartAdvertising:        {run: d.startAdvertising, async: true},
		ActionStopAdvertising:         {run: d.stopAdvertising},
		ActionRespondToRequest:        {run: d.respondToRequest},
		ActionGetState:                {run: d.getState},
		ActionGetServices:             {run: d.getServices},
		ActionSetValueChangedListener: {run: d.listen(peripheral.CategoryValueChanged), keep: true},
		ActionSetDescriptorListener:   {run: d.listen(peripheral.CategoryDescriptorChanged), keep: true},
		ActionSetStateChangedListener: {run: d.listen(peripheral.CategoryStateChanged), keep: true},
		ActionSetWriteRequestListener: {run: d.listen(peripheral.CategoryWriteRequest), keep: true},
	}
	return d
}

// Start begins writing results to out and forwarding listener notifications
func (d *Dispatcher) Start(out LineWriter) {
	d.once.Do(func() {
		d.out = out
		close(d.started)

		ch := d.p.Notifications()
		if ch == nil {
			return
		}
		d.wg.Add(1)
		groutine.Go(d.ctx, "bridge-notifications", func(ctx context.Context) {
			defer d.wg.Done()
			d.forward(ctx, ch)
		})
	})
}

// Deliver writes one listener notification. It makes the dispatcher usable as a peripheral.Sink.
func (d *Dispatcher) Deliver(n peripheral.Notification) {
	id := json.RawMessage(n.Handle)
	if !json.Valid(id) {
		d.logger.WithField("handle", n.Handle).Warn("Notification handle is not a command id, dropped")
		return
	}
	d.write(Result{ID: id, OK: true, Keep: true, Result: n})
}

func (d *Dispatcher) forward(ctx context.Context, ch <-chan peripheral.Notification) {
	sink, _ := d.p.Sink().(*peripheral.ChannelSink)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			d.ackMu.Lock()
			d.Deliver(n)
			d.ackMu.Unlock()
			if sink == nil {
				continue
			}
			for _, lost := range sink.DrainDropped() {
				d.logger.WithFields(logrus.Fields{
					"handle":   lost.Handle,
					"category": lost.Category,
				}).Warn("Notification dropped before the host read it")
			}
		}
	}
}

// HandleLine decodes and executes one command line
func (d *Dispatcher) HandleLine(line []byte) {
	select {
	case <-d.started:
	case <-d.ctx.Done():
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		d.reply(nullID, false, nil, badRequest{fmt.Errorf("invalid command: %w", err)})
		return
	}
	if len(cmd.ID) == 0 {
		cmd.ID = nullID
	}

	logger := d.logger.WithFields(logrus.Fields{"id": string(cmd.ID), "action": cmd.Action})
	act, ok := d.actions[cmd.Action]
	if !ok {
		logger.Warn("Unknown bridge action")
		d.write(Result{ID: cmd.ID, Error: &ErrorBody{Kind: KindUnknownAction, Message: fmt.Sprintf("unknown action %q", cmd.Action)}})
		return
	}
	if d.closed.Load() {
		d.reply(cmd.ID, act.keep, nil, peripheral.ErrClosed)
		return
	}
	logger.Debug("Bridge command")

	if !act.async {
		if act.keep {
			d.ackMu.Lock()
			defer d.ackMu.Unlock()
		}
		res, err := act.run(d.ctx, cmd)
		d.reply(cmd.ID, act.keep, res, err)
		return
	}

	d.wg.Add(1)
	groutine.Go(d.ctx, "bridge-"+cmd.Action, func(ctx context.Context) {
		defer d.wg.Done()
		res, err := act.run(ctx, cmd)
		d.reply(cmd.ID, act.keep, res, err)
	})
}

// Serve reads command lines from r until it is exhausted or ctx ends
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errCh := make(chan error, 1)
	groutine.Go(ctx, "bridge-input", func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errCh:
					return err
				default:
					return nil
				}
			}
			if len(line) > 0 {
				d.HandleLine(line)
			}
		}
	}
}

// Close abandons in-flight commands and waits for their goroutines
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) reply(id json.RawMessage, keep bool, res interface{}, err error) {
	if err != nil {
		d.write(Result{ID: id, Keep: keep, Error: errorBody(err)})
		return
	}
	d.write(Result{ID: id, OK: true, Keep: keep, Result: res})
}

func (d *Dispatcher) write(r Result) {
	select {
	case <-d.started:
	default:
		d.logger.WithField("id", string(r.ID)).Debug("Bridge not started, result dropped")
		return
	}

	line, err := json.Marshal(r)
	if err != nil {
		d.logger.WithError(err).WithField("id", string(r.ID)).Error("Failed to encode bridge result")
		line, _ = json.Marshal(Result{ID: r.ID, Keep: r.Keep, Error: &ErrorBody{Kind: KindInternal, Message: err.Error()}})
	}
	if err := d.out.WriteLine(line); err != nil {
		d.logger.WithError(err).WithField("id", string(r.ID)).Warn("Bridge result not written")
	}
}

func errorBody(err error) *ErrorBody {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return &ErrorBody{Kind: KindBadRequest, Message: err.Error()}
	case errors.Is(err, peripheral.ErrClosed):
		return &ErrorBody{Kind: KindClosed, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &ErrorBody{Kind: KindClosed, Message: "bridge closed before the command completed"}
	}
	if kind := peripheral.KindOf(err); kind != "" {
		return &ErrorBody{Kind: string(kind), Message: err.Error()}
	}
	return &ErrorBody{Kind: KindInternal, Message: err.Error()}
}
