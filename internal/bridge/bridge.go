// Package bridge exposes a peripheral to a host process over a JSON-lines channel,
// either the process's stdio or a PTY.
package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/ptyio"
)

// Transport selects the channel the host talks over
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportPTY   Transport = "pty"
)

// Bridge represents a running host bridge
type Bridge interface {
	GetPeripheral() *peripheral.Peripheral
	GetDispatcher() *Dispatcher
	GetTTYName() string    // PTY slave path (empty on stdio)
	GetTTYSymlink() string // Symlink path (empty if not created)
	// Done is closed when the host input ends (stdio EOF)
	Done() <-chan struct{}
}

// BridgeOptions contains all the configuration for running a bridge
type BridgeOptions struct {
	Stack             peripheral.Stack    // BLE stack the peripheral runs on
	Logger            *logrus.Logger      // Logger instance
	PeripheralOptions []peripheral.Option // Extra peripheral options

	// Profiles are declared and published before the host attaches
	Profiles      []*peripheral.Profile
	Advertisement *peripheral.Advertisement
	StartTimeout  time.Duration `default:"30s"`

	Transport        Transport `default:"stdio"`
	Input            io.Reader // stdio input (defaults to os.Stdin)
	Output           io.Writer // stdio output (defaults to os.Stdout)
	OutputBufferSize int       `default:"65536"`

	TTYSymlinkPath   string        // Optional tty symlink path for the PTY slave (e.g., /tmp/blimp)
	PtyMaxLineLength int           `default:"1048576"`
	PtyPollInterval  time.Duration `default:"50ms"`
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// BridgeCallback is executed with the running bridge
type BridgeCallback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	p              *peripheral.Peripheral
	dispatcher     *Dispatcher
	port           *ptyio.Port
	ttySymlinkPath string
	done           chan struct{}
}

func (b *bridgeImpl) GetPeripheral() *peripheral.Peripheral { return b.p }
func (b *bridgeImpl) GetDispatcher() *Dispatcher            { return b.dispatcher }
func (b *bridgeImpl) GetTTYSymlink() string                 { return b.ttySymlinkPath }
func (b *bridgeImpl) Done() <-chan struct{}                 { return b.done }

func (b *bridgeImpl) GetTTYName() string {
	if b.port != nil {
		return b.port.TTYName()
	}
	return ""
}

// RunPeripheralBridge starts a peripheral on opts.Stack, publishes the profiles, starts
// advertising, opens the host transport and executes the callback with the bridge.
// Everything is torn down when the callback returns.
func RunPeripheralBridge[R any](
	ctx context.Context,
	opts *BridgeOptions,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Stack == nil {
		return zero, fmt.Errorf("failed to execute bridge: BLE stack is required")
	}
	o := *opts
	defaults.SetDefaults(&o)

	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	if o.Transport != TransportStdio && o.Transport != TransportPTY {
		return zero, fmt.Errorf("failed to execute bridge: unknown transport %q", o.Transport)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		p              *peripheral.Peripheral
		dispatcher     *Dispatcher
		port           *ptyio.Port
		ttySymlinkPath string
	)

	defer func() {
		if dispatcher != nil {
			dispatcher.Close()
		}
		// Remove tty symlink before closing PTY (cleanup order matters)
		if ttySymlinkPath != "" {
			if err := os.Remove(ttySymlinkPath); err != nil {
				logger.WithError(err).WithField("ttySymlink", ttySymlinkPath).Warn("Failed to remove tty symlink")
			} else {
				logger.WithField("ttySymlink", ttySymlinkPath).Debug("Removed tty symlink")
			}
		}
		if port != nil {
			_ = port.Close()
		}
		if p != nil {
			if err := p.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close peripheral")
			}
		}
	}()

	progressCallback("Starting peripheral")

	popts := append([]peripheral.Option{peripheral.WithLogger(logger)}, o.PeripheralOptions...)
	var err error
	p, err = peripheral.New(o.Stack, popts...)
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to start peripheral: %w", err)
	}

	if err := publishProfiles(bridgeCtx, p, &o, logger, progressCallback); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Opening host channel")

	dispatcher = NewDispatcher(p, logger)
	done := make(chan struct{})

	switch o.Transport {
	case TransportPTY:
		port, err = ptyio.Open(&ptyio.Options{
			Logger:      logger,
			WriteCap:    o.OutputBufferSize,
			MaxLineLen:  o.PtyMaxLineLength,
			PollTimeout: o.PtyPollInterval,
		}, dispatcher.HandleLine)
		if err != nil {
			return zero, err
		}
		logger.WithField("tty", port.TTYName()).Info("Created PTY device")

		if o.TTYSymlinkPath != "" {
			if err := os.Symlink(port.TTYName(), o.TTYSymlinkPath); err != nil {
				return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", o.TTYSymlinkPath, port.TTYName(), err)
			}
			ttySymlinkPath = o.TTYSymlinkPath
			logger.WithFields(logrus.Fields{
				"ttySymlink": ttySymlinkPath,
				"target":     port.TTYName(),
			}).Info("Created PTY symlink")
		}
		dispatcher.Start(port)

	case TransportStdio:
		input, output := o.Input, o.Output
		if input == nil {
			input = os.Stdin
		}
		if output == nil {
			output = os.Stdout
		}

		stream := NewStreamOutput(output, o.OutputBufferSize, logger)
		outputDone := groutine.Go(bridgeCtx, "bridge-output", func(ctx context.Context) {
			if err := stream.Run(ctx); err != nil {
				logger.WithError(err).Warn("Bridge output stopped")
			}
		})
		dispatcher.Start(stream)

		groutine.Go(bridgeCtx, "bridge-stdio", func(ctx context.Context) {
			defer close(done)
			if err := dispatcher.Serve(ctx, input); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Host input failed")
			}
		})
		// in-flight commands answer before the output stops and flushes
		defer func() {
			dispatcher.Close()
			cancel()
			<-outputDone
		}()
	}

	progressCallback("Running")

	bridge := &bridgeImpl{
		p:              p,
		dispatcher:     dispatcher,
		port:           port,
		ttySymlinkPath: ttySymlinkPath,
		done:           done,
	}
	return callback(bridge)
}

func publishProfiles(ctx context.Context, p *peripheral.Peripheral, o *BridgeOptions, logger *logrus.Logger, progress ProgressCallback) error {
	if len(o.Profiles) == 0 && o.Advertisement == nil {
		return nil
	}

	startCtx, cancel := context.WithTimeout(ctx, o.StartTimeout)
	defer cancel()

	if len(o.Profiles) > 0 {
		progress("Publishing services")
	}
	var published []string
	for _, profile := range o.Profiles {
		for i := range profile.Services {
			h, err := p.DeclareService(&profile.Services[i])
			if err != nil {
				return fmt.Errorf("failed to declare service %q: %w", profile.Services[i].UUID, err)
			}
			if err := p.PublishService(startCtx, h); err != nil {
				return fmt.Errorf("failed to publish service %s: %w", h, err)
			}
			published = append(published, string(h))
		}
	}

	if o.Advertisement == nil {
		return nil
	}
	progress("Advertising")
	adv := *o.Advertisement
	if len(adv.ServiceUUIDs) == 0 {
		adv.ServiceUUIDs = published
	}
	if err := p.StartAdvertising(startCtx, adv); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"name":     adv.LocalName,
		"services": adv.ServiceUUIDs,
	}).Info("Advertising")
	return nil
}
