package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// ErrOutputFull is returned when a result line does not fit the output buffer
var ErrOutputFull = errors.New("bridge output buffer full")

// LineWriter receives complete result lines. WriteLine must not block for long: it is
// called from the peripheral notification path.
type LineWriter interface {
	WriteLine(line []byte) error
}

// StreamOutput queues result lines in a ring buffer and copies them to an io.Writer
// from its own goroutine, so a slow host never stalls the producers.
type StreamOutput struct {
	logger *logrus.Logger
	w      io.Writer

	mu   sync.Mutex
	buf  *ringbuffer.RingBuffer
	wake chan struct{}

	dropped atomic.Uint64
}

// NewStreamOutput creates an output holding up to capacity queued bytes
func NewStreamOutput(w io.Writer, capacity int, logger *logrus.Logger) *StreamOutput {
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamOutput{
		logger: logger,
		w:      w,
		buf:    ringbuffer.New(capacity),
		wake:   make(chan struct{}, 1),
	}
}

// WriteLine queues line plus a newline, whole or not at all
func (o *StreamOutput) WriteLine(line []byte) error {
	o.mu.Lock()
	if o.buf.Free() < len(line)+1 {
		o.mu.Unlock()
		o.dropped.Add(1)
		o.logger.WithField("len", len(line)).Warn("Bridge output full, dropping result")
		return ErrOutputFull
	}
	_, err := o.buf.Write(line)
	if err == nil {
		_, err = o.buf.Write([]byte{'\n'})
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return err
}

// Dropped returns how many lines were discarded because the buffer was full
func (o *StreamOutput) Dropped() uint64 {
	return o.dropped.Load()
}

// Run copies queued bytes to the writer until ctx ends, then flushes what is left
func (o *StreamOutput) Run(ctx context.Context) error {
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return o.flush(chunk)
		case <-o.wake:
		}
		if err := o.flush(chunk); err != nil {
			return err
		}
	}
}

func (o *StreamOutput) flush(chunk []byte) error {
	for {
		o.mu.Lock()
		n, err := o.buf.TryRead(chunk)
		o.mu.Unlock()
		if errors.Is(err, ringbuffer.ErrIsEmpty) || n == 0 {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := o.w.Write(chunk[:n]); err != nil {
			o.logger.WithError(err).Warn("Bridge output writer failed")
			return err
		}
	}
}
