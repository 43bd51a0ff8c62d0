package bridge

import (
	"log/slog"
	"time"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultJoinTimeout    = 5 * time.Second
	DefaultReadBufferSize = 1024
)

type options struct {
	logger         *slog.Logger
	metrics        *Metrics
	dialTimeout    time.Duration
	joinTimeout    time.Duration
	readBufferSize int
	sendRate       float64
	sendBurst      int
	onClosed       func(reason error)
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		dialTimeout:    DefaultDialTimeout,
		joinTimeout:    DefaultJoinTimeout,
		readBufferSize: DefaultReadBufferSize,
	}
}

// Option configures a Connector.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records frame, dispatch and connection counters.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialTimeout bounds Connect. Zero leaves only the caller's context.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithJoinTimeout bounds how long Disconnect waits for the receive loop,
// which may be busy in a slow handler.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

// WithReadBufferSize sets the chunk size of each transport read.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithSendRate limits outbound frames to perSecond with the given burst.
// Send waits for a token, bounded by its context. Zero disables limiting.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.sendRate = perSecond
		o.sendBurst = burst
	}
}

// WithOnClosed is equivalent to calling OnClosed after New.
func WithOnClosed(fn func(reason error)) Option {
	return func(o *options) { o.onClosed = fn }
}
