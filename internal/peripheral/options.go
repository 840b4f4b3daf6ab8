package peripheral

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configures a Peripheral. Zero fields take the `default` tag value.
type Options struct {
	Logger *logrus.Logger
	// Sink receives listener notifications. Defaults to a ChannelSink sized by SinkCapacity.
	Sink Sink

	// RequestTimeout bounds how long a remote request may stay unanswered.
	RequestTimeout time.Duration `default:"30s"`
	SinkCapacity   int           `default:"256"`
	DroppedHistory uint32        `default:"32"`

	// SerializePublications allows only one publication at a time across all services.
	SerializePublications bool
}

// Option mutates Options
type Option func(*Options)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithSink routes notifications to sink instead of the default ChannelSink
func WithSink(sink Sink) Option {
	return func(o *Options) { o.Sink = sink }
}

// WithRequestTimeout sets the remote request expiry
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithSinkCapacity sizes the default ChannelSink
func WithSinkCapacity(n int) Option {
	return func(o *Options) { o.SinkCapacity = n }
}

// WithSerializedPublications makes a second concurrent publication fail with PeripheralBusy
func WithSerializedPublications(on bool) Option {
	return func(o *Options) { o.SerializePublications = on }
}

// buildOptions applies opts and defaults; the returned sink is non-nil when it was created here
func buildOptions(opts []Option) (Options, *ChannelSink) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	defaults.SetDefaults(&o)

	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	var own *ChannelSink
	if o.Sink == nil {
		own = NewChannelSink(o.SinkCapacity, o.DroppedHistory)
		o.Sink = own
	}
	return o, own
}
