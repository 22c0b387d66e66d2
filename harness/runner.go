// Package harness composes the configuration, the worker pool and one
// broker session per worker into the consume and produce pipelines.
package harness

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kbukum/brokerpool/component"
	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/hardware"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/kafka/consumer"
	"github.com/kbukum/brokerpool/kafka/producer"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/resilience"
	"github.com/kbukum/brokerpool/sink"
	"github.com/kbukum/brokerpool/workerpool"
)

// PayloadFunc builds the message a producer worker sends at now.
type PayloadFunc func(worker int, now time.Time) []byte

// DefaultPayload produces "Thread <worker> - Message at <unix seconds>".
func DefaultPayload(worker int, now time.Time) []byte {
	return []byte(fmt.Sprintf("Thread %d - Message at %d", worker, now.Unix()))
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics records pool and session metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSink sets where consumed messages are written.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithDriver bypasses the driver registry.
func WithDriver(d kafka.Driver) Option {
	return func(r *Runner) { r.driver = d }
}

// WithSizer sets the hardware sizer used when pool.workers is zero.
func WithSizer(s hardware.Sizer) Option {
	return func(r *Runner) { r.sizer = s }
}

// WithPayload replaces DefaultPayload.
func WithPayload(fn PayloadFunc) Option {
	return func(r *Runner) { r.payload = fn }
}

var (
	_ component.Component   = (*Runner)(nil)
	_ component.Describable = (*Runner)(nil)
)

// Runner drives one pool of consumer or producer sessions.
type Runner struct {
	cfg     Config
	role    kafka.Role
	log     *logger.Logger
	metrics *observability.Metrics
	sink    sink.Sink
	driver  kafka.Driver
	sizer   hardware.Sizer
	payload PayloadFunc
	pool    *workerpool.Pool
}

// NewRunner validates cfg for role and returns a stopped runner.
func NewRunner(cfg Config, role kafka.Role, opts ...Option) (*Runner, error) {
	cfg.ApplyDefaults()
	cfg.Kafka = cfg.Kafka.ForRole(role)
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		role:    role,
		sizer:   hardware.Default,
		payload: DefaultPayload,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.GetGlobalLogger()
	}
	if r.sink == nil {
		r.sink = sink.Log{Logger: r.log}
	}
	if cfg.Producer.Message != "" {
		msg := []byte(cfg.Producer.Message)
		r.payload = func(int, time.Time) []byte { return msg }
	}

	r.pool = workerpool.New(cfg.Pool,
		workerpool.WithName(string(role)),
		workerpool.WithSizer(r.sizer),
		workerpool.WithLogger(r.log),
		workerpool.WithMetrics(r.metrics),
	)
	return r, nil
}

// Name returns the component name.
func (r *Runner) Name() string { return "runner-" + string(r.role) }

// Role returns the session role the runner drives.
func (r *Runner) Role() kafka.Role { return r.role }

// Pool returns the worker pool.
func (r *Runner) Pool() *workerpool.Pool { return r.pool }

// Start builds and connects one session per worker, then launches the
// pool. If any session fails to connect, the sessions already connected
// are closed and the error is returned.
func (r *Runner) Start(ctx context.Context) error {
	var factory workerpool.WorkerFactory
	switch r.role {
	case kafka.RoleConsumer:
		factory = func(i int) (workerpool.Worker, error) { return r.newConsumeWorker(ctx, i) }
	case kafka.RoleProducer:
		factory = func(i int) (workerpool.Worker, error) { return r.newProduceWorker(ctx, i) }
	default:
		return errors.InvalidConfig("role", fmt.Sprintf("unknown role %q", r.role))
	}
	return r.pool.StartWorkers(factory, 0)
}

// Stop stops the pool: workers finish their iteration and sessions close
// in parallel. If ctx expires first Stop returns its error and the pool
// finishes stopping in the background.
func (r *Runner) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- r.pool.Stop() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.log.Warn("Runner stop exceeded its deadline", logger.ErrorFields("stop", ctx.Err()))
		return fmt.Errorf("stop %s: %w", r.Name(), ctx.Err())
	}
}

// Health reports the pool state.
func (r *Runner) Health(_ context.Context) component.Health {
	if !r.pool.Running() {
		return component.Health{Name: r.Name(), Status: component.StatusUnhealthy, Message: "pool not running"}
	}
	size, capacity := r.pool.Size(), r.pool.Capacity()
	if size < capacity {
		return component.Health{
			Name:    r.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("%d/%d workers", size, capacity),
		}
	}
	return component.Health{
		Name:    r.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d workers", size),
	}
}

// Describe summarizes the runner for the startup log.
func (r *Runner) Describe() component.Description {
	details := fmt.Sprintf("%v topic=%s driver=%s", r.cfg.Kafka.Brokers, r.cfg.Kafka.Topic, r.cfg.Kafka.Driver)
	if r.role == kafka.RoleConsumer {
		details += " group=" + r.cfg.Kafka.GroupID
	} else {
		details += " ack_mode=" + string(r.cfg.Kafka.AckMode)
	}
	return component.Description{Name: "Kafka " + string(r.role), Type: "kafka", Details: details}
}

type consumeWorker struct {
	session *consumer.Session
	handle  kafka.Handler
}

func (r *Runner) newConsumeWorker(ctx context.Context, i int) (workerpool.Worker, error) {
	opts := []consumer.Option{consumer.WithMetrics(r.metrics)}
	if r.driver != nil {
		opts = append(opts, consumer.WithDriver(r.driver))
	}
	s, err := consumer.New(r.cfg.Kafka, i, r.log, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &consumeWorker{session: s, handle: r.handler(i)}, nil
}

// handler logs each message and writes it to the sink under its sink key.
func (r *Runner) handler(worker int) kafka.Handler {
	log := r.log.WithComponent("handler").WithFields(logger.Fields(
		logger.FieldWorker, worker,
		logger.FieldTopic, r.cfg.Kafka.Topic,
	))
	return func(ctx context.Context, msg *kafka.Message) error {
		log.Info("Received message", logger.Fields(
			logger.FieldPartition, msg.Partition,
			logger.FieldOffset, msg.Offset,
			"payload", string(msg.Payload),
		))
		observability.SetSpanAttribute(ctx, observability.AttrBodySize, len(msg.Payload))
		r.sink.Write(ctx, msg.SinkKey(), msg.Payload)
		return nil
	}
}

func (w *consumeWorker) Run(ctx context.Context, _ int) error {
	return w.session.ConsumeOnce(ctx, w.handle)
}

func (w *consumeWorker) Close() error { return w.session.Close() }

type produceWorker struct {
	session *producer.Session
	limiter *resilience.RateLimiter
	payload PayloadFunc
	// backoff is how long a worker polls for delivery reports after the
	// local queue rejected a send.
	backoff time.Duration
}

func (r *Runner) newProduceWorker(ctx context.Context, i int) (workerpool.Worker, error) {
	opts := []producer.Option{producer.WithMetrics(r.metrics)}
	if r.driver != nil {
		opts = append(opts, producer.WithDriver(r.driver))
	}
	s, err := producer.New(r.cfg.Kafka, i, r.log, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &produceWorker{
		session: s,
		limiter: resilience.NewRateLimiter(r.cfg.Producer.RateLimit),
		payload: r.payload,
		backoff: r.cfg.Kafka.AckPollTimeout,
	}, nil
}

// Run sends one message. Send failures are logged by the session and do
// not end the loop; a closed client does. A full local queue waits for
// delivery reports before the next attempt.
func (w *produceWorker) Run(ctx context.Context, worker int) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	err := w.session.SendContext(ctx, w.payload(worker, time.Now()))
	switch {
	case stderrors.Is(err, kafka.ErrClientClosed):
		return errors.SessionClosed("send")
	case stderrors.Is(err, kafka.ErrQueueFull):
		w.session.Poll(w.backoff)
		return nil
	}
	if w.session.AckMode() == kafka.AckFireAndForget {
		w.session.Poll(0)
	}
	return nil
}

func (w *produceWorker) Close() error { return w.session.Close() }
