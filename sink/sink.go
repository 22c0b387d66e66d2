// Package sink is where consumed messages go after they are handled.
//
// A Sink reports success as a bool: a failed write is logged and counted
// but never stops the consumer loop. Store adapts any Writer (the Redis
// client, for one) into a Sink, optionally behind a circuit breaker.
package sink

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/resilience"
)

// Sink accepts one key/value pair per consumed message.
type Sink interface {
	Write(ctx context.Context, key string, value []byte) bool
}

// Writer is a fallible key-value store.
type Writer interface {
	Write(ctx context.Context, key string, value []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, key string, value []byte) error

func (f WriterFunc) Write(ctx context.Context, key string, value []byte) error {
	return f(ctx, key, value)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records sink writes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithBreaker guards the writer with a circuit breaker.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Store) {
		if cfg.Name == "" {
			cfg.Name = s.name
		}
		s.w = Guard(s.w, resilience.NewCircuitBreaker(cfg))
	}
}

// Store is a Sink backed by a Writer.
type Store struct {
	name    string
	w       Writer
	log     *logger.Logger
	metrics *observability.Metrics
}

// New creates a Store named name writing to w.
func New(name string, w Writer, opts ...Option) *Store {
	s := &Store{name: name, w: w}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetGlobalLogger()
	}
	s.log = s.log.WithComponent("sink").WithFields(logger.Fields("sink", name))
	return s
}

// Name returns the sink name.
func (s *Store) Name() string { return s.name }

// Write stores value under key and reports whether it succeeded.
func (s *Store) Write(ctx context.Context, key string, value []byte) bool {
	ctx, span := observability.StartSpan(ctx, observability.SpanSinkWrite)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrSink, s.name),
		attribute.String(observability.AttrSinkKey, key),
	)

	if err := s.w.Write(ctx, key, value); err != nil {
		appErr := errors.SinkFailed(s.name, err)
		observability.SetSpanError(ctx, appErr)
		s.metrics.RecordSinkWrite(ctx, s.name, false)
		s.metrics.RecordError(ctx, string(appErr.Code), "sink")
		s.log.Warn("Sink write failed", logger.MergeWithError(logger.Fields("key", key), appErr))
		return false
	}
	s.metrics.RecordSinkWrite(ctx, s.name, true)
	return true
}

// Nop is a Sink that discards every write.
type Nop struct{}

func (Nop) Write(context.Context, string, []byte) bool { return true }

// Log is a Sink that only logs each write at debug level.
type Log struct {
	Logger *logger.Logger
}

func (l Log) Write(_ context.Context, key string, value []byte) bool {
	log := l.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log.Debug("Stored message", logger.Fields("key", key, "bytes", len(value)))
	return true
}
