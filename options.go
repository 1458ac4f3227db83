package handoffz

import (
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Option configures a Tracer or Interceptor.
type Option func(*options)

type options struct {
	clock    clockz.Clock
	logger   *zap.Logger
	metrics  *Metrics
	traceIDs IDGenerator
	spanIDs  IDGenerator
}

func newOptions(opts []Option) options {
	o := options{
		clock:  clockz.RealClock,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock injects the clock used for span timestamps and schedules.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator replaces both the trace and span id sources.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.traceIDs = g
			o.spanIDs = g
		}
	}
}
