package retrydlq

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultDeadLetterRetention = 7 * 24 * time.Hour
	defaultCleanupInterval     = 1 * time.Hour
	instrumentationName        = "github.com/overtonx/retrydlq"
)

// Option configures services, the orchestrator and the cleanup service.
// Options a component does not use are ignored.
type Option func(*options)

type options struct {
	logger              *zap.Logger
	metrics             MetricsCollector
	clock               Clock
	tracer              trace.Tracer
	deadLetterRetention time.Duration
	cleanupInterval     time.Duration
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:              zap.NewNop(),
		metrics:             NewNoOpMetricsCollector(),
		clock:               NewRealClock(),
		deadLetterRetention: defaultDeadLetterRetention,
		cleanupInterval:     defaultCleanupInterval,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = NewNoOpMetricsCollector()
	}
	if o.clock == nil {
		o.clock = NewRealClock()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.deadLetterRetention <= 0 {
		o.deadLetterRetention = defaultDeadLetterRetention
	}
	if o.cleanupInterval <= 0 {
		o.cleanupInterval = defaultCleanupInterval
	}

	return o
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(opts *options) {
		opts.metrics = metrics
	}
}

func WithClock(clock Clock) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(opts *options) {
		opts.tracer = tracer
	}
}

func WithDeadLetterRetention(retention time.Duration) Option {
	return func(opts *options) {
		opts.deadLetterRetention = retention
	}
}

func WithCleanupInterval(interval time.Duration) Option {
	return func(opts *options) {
		opts.cleanupInterval = interval
	}
}
