package observability

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/kbukum/brokerpool/logger"
)

// InitMeter installs an OTLP-exporting meter provider, read every
// cfg.Interval, as the global one. The caller shuts it down on exit.
func InitMeter(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Debug("Meter initialized", logger.Fields(
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))
	return mp, nil
}

// Init starts both exporters according to cfg and returns a shutdown
// function. With cfg.Enabled false it does nothing.
func Init(ctx context.Context, cfg Config, serviceName, version, environment string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	cfg.ApplyDefaults()

	res, err := Resource(serviceName, version, environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	mp, err := InitMeter(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	tp, err := InitTracer(ctx, cfg, res)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	logger.Info("Telemetry export enabled", logger.Fields(
		"service", serviceName,
		"endpoint", cfg.Endpoint,
	))
	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the pool and session instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	workersActive    metric.Int64UpDownCounter
	iterations       metric.Int64Counter
	panics           metric.Int64Counter
	received         metric.Int64Counter
	sent             metric.Int64Counter
	delivered        metric.Int64Counter
	dropped          metric.Int64Counter
	sinkWrites       metric.Int64Counter
	errorTotal       metric.Int64Counter
	handleDuration   metric.Float64Histogram
	flushDuration    metric.Float64Histogram
	connectDurations metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			err = fmt.Errorf("creating %s counter: %w", name, err)
		}
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil {
			err = fmt.Errorf("creating %s histogram: %w", name, err)
		}
	}

	m.workersActive, err = meter.Int64UpDownCounter("pool.workers.active",
		metric.WithDescription("Number of running pool workers"))
	if err != nil {
		return nil, fmt.Errorf("creating pool.workers.active gauge: %w", err)
	}
	counter(&m.iterations, "pool.iterations.total", "Worker task iterations")
	counter(&m.panics, "pool.panics.total", "Recovered worker task panics")
	counter(&m.received, "messages.received.total", "Messages received by consumer sessions")
	counter(&m.sent, "messages.sent.total", "Messages enqueued by producer sessions")
	counter(&m.delivered, "messages.delivered.total", "Delivery reports by status")
	counter(&m.dropped, "messages.dropped.total", "Messages dropped when a flush deadline expired")
	counter(&m.sinkWrites, "sink.writes.total", "Downstream sink writes by status")
	counter(&m.errorTotal, "error.total", "Errors by code and component")
	histogram(&m.handleDuration, "message.handle.duration", "Consumer handler duration")
	histogram(&m.flushDuration, "producer.flush.duration", "Producer close flush duration")
	histogram(&m.connectDurations, "session.connect.duration", "Session connect duration")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func roleAttrs(role, topic string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("topic", topic),
	)
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.workersActive.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.workersActive.Add(ctx, -1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordIteration counts one worker iteration.
func (m *Metrics) RecordIteration(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordPanic counts a recovered task panic.
func (m *Metrics) RecordPanic(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.panics.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordReceived counts a consumed message.
func (m *Metrics) RecordReceived(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordSent counts an enqueued message.
func (m *Metrics) RecordSent(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordDelivery counts one delivery report.
func (m *Metrics) RecordDelivery(ctx context.Context, topic string, ok bool) {
	if m == nil {
		return
	}
	m.delivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", status(ok)),
	))
}

// RecordDropped counts messages abandoned at flush.
func (m *Metrics) RecordDropped(ctx context.Context, topic string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordSinkWrite counts a sink write.
func (m *Metrics) RecordSinkWrite(ctx context.Context, sink string, ok bool) {
	if m == nil {
		return
	}
	m.sinkWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("status", status(ok)),
	))
}

// RecordError records an error by code and component.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	if m == nil {
		return
	}
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("component", component),
	))
}

// RecordHandle records how long a consumer handler took.
func (m *Metrics) RecordHandle(ctx context.Context, topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.handleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordFlush records how long a producer close flush took.
func (m *Metrics) RecordFlush(ctx context.Context, topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordConnect records a session connect attempt.
func (m *Metrics) RecordConnect(ctx context.Context, role, topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.connectDurations.Record(ctx, d.Seconds(), roleAttrs(role, topic))
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
