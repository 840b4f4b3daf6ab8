// Package ptyio exposes a line-oriented, non-blocking PTY master. The host opens the
// slave side (e.g. /dev/pts/5) and exchanges newline-terminated messages with it.
//
//	port, err := ptyio.Open(&ptyio.Options{Logger: logger}, func(line []byte) {
//	    handle(line)
//	})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	_ = port.WriteLine([]byte(`{"ok":true}`))
package ptyio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blimp/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrLineDropped is returned by WriteLine when the write buffer cannot hold the whole line
var ErrLineDropped = errors.New("pty write buffer full, line dropped")

// LineHandler receives one inbound line without its terminator. It runs on the read
// loop goroutine and must not retain the slice.
type LineHandler func(line []byte)

// Options configures a Port. Zero fields take the `default` tag value.
type Options struct {
	Logger *logrus.Logger

	// WriteCap is the ring buffer capacity for bytes queued to the slave
	WriteCap int `default:"65536"`
	// MaxLineLen bounds an inbound line; longer input is discarded up to the next newline
	MaxLineLen int `default:"1048576"`
	// PollTimeout is the longest the I/O loops sleep before rechecking for shutdown
	PollTimeout time.Duration `default:"50ms"`
}

// Stats are runtime counters of a Port
type Stats struct {
	QueuedBytes  int
	DroppedLines uint64
	LinesRead    uint64
	BytesWritten uint64
}

// Port is the master side of a PTY pair
type Port struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string
	opts    Options
	handler LineHandler

	writeMu  sync.Mutex
	writeBuf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedLines atomic.Uint64
	linesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Open creates a PTY pair in raw mode and starts its read and write loops
func Open(opts *Options, handler LineHandler) (*Port, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	if handler == nil {
		return nil, fmt.Errorf("line handler cannot be nil")
	}

	master, slave, masterFd, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		logger:   o.Logger,
		master:   master,
		slave:    slave,
		ttyName:  slave.Name(),
		opts:     o,
		handler:  handler,
		writeBuf: ringbuffer.New(o.WriteCap),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.readLoop(ctx, masterFd)
	})
	groutine.Go(ctx, "pty-write-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx, masterFd)
	})

	p.logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

// TTYName returns the slave device path
func (p *Port) TTYName() string {
	return p.ttyName
}

// WriteLine queues line plus a newline for the slave. The line is queued whole or not at all.
func (p *Port) WriteLine(line []byte) error {
	if p.closed.Load() {
		return os.ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeBuf.Free() < len(line)+1 {
		p.droppedLines.Add(1)
		p.logger.WithField("len", len(line)).Warn("PTY write buffer full, dropping line")
		return ErrLineDropped
	}
	if _, err := p.writeBuf.Write(line); err != nil {
		return err
	}
	_, err := p.writeBuf.Write([]byte{'\n'})
	return err
}

// Write implements io.Writer by queueing data as one line; a trailing newline is not duplicated
func (p *Port) Write(data []byte) (int, error) {
	if err := p.WriteLine(bytes.TrimSuffix(data, []byte{'\n'})); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Stats returns instantaneous counters
func (p *Port) Stats() Stats {
	return Stats{
		QueuedBytes:  p.writeBuf.Length(),
		DroppedLines: p.droppedLines.Load(),
		LinesRead:    p.linesRead.Load(),
		BytesWritten: p.bytesWritten.Load(),
	}
}

// Close stops the loops, then closes both ends of the PTY. The loops poll the raw master
// fd, so it stays open until they have exited.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(ctx context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(p.opts.PollTimeout*3 + time.Second):
		p.logger.WithField("tty", p.ttyName).Error("PTY loops did not exit in time")
	}

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(ptyx): %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
	}
	return errors.Join(errs...)
}

func (p *Port) readLoop(ctx context.Context, fd int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("readLoop panicked (recovered): %v", r)
		}
	}()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	timeoutMs := int(p.opts.PollTimeout / time.Millisecond)
	buf := make([]byte, 4096)
	var line []byte
	discarding := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := unix.Poll(pollFd, timeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.Warnf("readLoop poll error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		n, err = master.Read(buf)
		for _, b := range buf[:max(n, 0)] {
			switch {
			case b == '\n':
				if !discarding && len(line) > 0 {
					p.dispatch(bytes.TrimSuffix(line, []byte{'\r'}))
				}
				line = line[:0]
				discarding = false
			case discarding:
			case len(line) >= p.opts.MaxLineLen:
				p.logger.WithField("limit", p.opts.MaxLineLen).Warn("Inbound line too long, discarding")
				line = line[:0]
				discarding = true
			default:
				line = append(line, b)
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
				p.logger.Debug("readLoop exiting: master closed")
				return
			default:
				p.logger.Warnf("readLoop exiting on error: %v", err)
				return
			}
		}
	}
}

func (p *Port) dispatch(line []byte) {
	p.linesRead.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("LineHandler panicked: %v", r)
		}
	}()
	p.handler(line)
}

func (p *Port) writeLoop(ctx context.Context, fd int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("writeLoop panicked (recovered): %v", r)
		}
	}()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	timeoutMs := int(p.opts.PollTimeout / time.Millisecond)
	idle := time.NewTicker(p.opts.PollTimeout / 5)
	defer idle.Stop()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		p.writeMu.Lock()
		n, err := p.writeBuf.TryRead(buf)
		p.writeMu.Unlock()
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Warnf("writeLoop TryRead error: %v", err)
			continue
		}

		for offset := 0; offset < n; {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				p.bytesWritten.Add(uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, timeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.Warnf("writeLoop poll error: %v", perr)
				}
				if ctx.Err() != nil {
					return
				}
			default:
				p.logger.Debugf("writeLoop exiting: %v", err)
				return
			}
		}
	}
}

// createPTY opens a PTY pair, puts the slave in raw mode and the master in non-blocking mode.
// It returns the master fd for polling; os.File.Fd must not be called again after this.
func createPTY() (master *os.File, slave *os.File, masterFd int, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(stage string, cause error) error {
		var cleanupErrs []error
		if closeErr := master.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(ptyx): %w", closeErr))
		}
		if closeErr := slave.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(tty): %w", closeErr))
		}
		if len(cleanupErrs) > 0 {
			return fmt.Errorf("failed to set %s: %w (cleanup errors: %v)", stage, cause, cleanupErrs)
		}
		return fmt.Errorf("failed to set %s: %w", stage, cause)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, -1, cleanup(fmt.Sprintf("PTY(tty) %s to raw mode", slave.Name()), err)
	}
	masterFd = int(master.Fd())
	if err := syscall.SetNonblock(masterFd, true); err != nil {
		return nil, nil, -1, cleanup(fmt.Sprintf("PTY(ptyx) %s to nonblocking mode", slave.Name()), err)
	}
	return master, slave, masterFd, nil
}
