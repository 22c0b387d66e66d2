// Package producer binds one worker to one asynchronous producer client.
//
// A Session moves Created → Ready → Closing → Closed. Send enqueues and
// returns; delivery reports surface through Poll. Close flushes with a
// bounded wait and always releases the client.
package producer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/resilience"
)

const component = "kafka.producer"

var _ kafka.Session = (*Session)(nil)

// Option configures a Session.
type Option func(*Session)

// WithDriver overrides the driver named by the config.
func WithDriver(d kafka.Driver) Option {
	return func(s *Session) { s.driver = d }
}

// WithMetrics records session metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one producer bound to one topic.
type Session struct {
	cfg      kafka.Config
	worker   int
	clientID string
	driver   kafka.Driver
	metrics  *observability.Metrics
	log      *logger.Logger

	mu     sync.Mutex
	client kafka.ProducerClient
	closed bool
}

// New validates cfg for the producer role and returns an unconnected
// session for worker. A nil log falls back to the global logger.
func New(cfg kafka.Config, worker int, log *logger.Logger, opts ...Option) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.ValidateFor(kafka.RoleProducer); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, worker: worker}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver == nil {
		d, err := kafka.Lookup(cfg.Driver)
		if err != nil {
			return nil, errors.InvalidConfig("kafka.driver", err.Error())
		}
		s.driver = d
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s.clientID = kafka.NewClientID(cfg, kafka.RoleProducer, worker)
	s.log = log.WithComponent(component).WithFields(logger.Fields(
		logger.FieldBrokers, cfg.Brokers,
		logger.FieldTopic, cfg.Topic,
		logger.FieldWorker, worker,
		logger.FieldClientID, s.clientID,
	))
	return s, nil
}

// Topic returns the bound topic.
func (s *Session) Topic() string { return s.cfg.Topic }

// ClientID returns the client.id sent to the broker.
func (s *Session) ClientID() string { return s.clientID }

// Worker returns the owning worker index.
func (s *Session) Worker() int { return s.worker }

// AckMode returns the configured acknowledgement mode.
func (s *Session) AckMode() kafka.AckMode { return s.cfg.AckMode }

// Connect establishes the producer client. Failure yields
// CONNECTION_FAILED, retried only when kafka.connect_retry is enabled.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.SessionClosed("connect")
	}
	if s.client != nil {
		return nil
	}

	dial := func() error {
		client, err := s.driver.NewProducer(s.cfg, s.clientID)
		if err != nil {
			return kafka.ConnectError(s.cfg, err)
		}
		s.client = client
		return nil
	}

	start := time.Now()
	var err error
	if s.cfg.ConnectRetry.Enabled {
		rc := s.cfg.ConnectRetry.RetryConfig
		rc.RetryIf = resilience.RetryOnCode(errors.ErrCodeConnectionFailed)
		rc.OnRetry = func(attempt int, err error, backoff time.Duration) {
			s.log.Warn("Connect failed, retrying", logger.MergeWithError(logger.Fields(
				"attempt", attempt,
				"backoff", backoff.String(),
			), err))
		}
		err = resilience.RetryFunc(ctx, rc, dial)
	} else {
		err = dial()
	}
	s.metrics.RecordConnect(ctx, string(kafka.RoleProducer), s.cfg.Topic, time.Since(start))

	if err != nil {
		s.fail(ctx, "connect", err)
		return err
	}
	s.log.Info("Producer ready", logger.Fields(
		"ack_mode", string(s.cfg.AckMode),
		"driver", s.cfg.Driver,
	))
	return nil
}

func (s *Session) current() kafka.ProducerClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.client
}

// Send enqueues payload with automatic partition assignment and returns
// once it is queued locally. In wait_local_ack mode it then polls the
// report queue once. A failed enqueue is logged and returned as
// SEND_FAILED; it is not retried.
func (s *Session) Send(payload []byte) error {
	return s.SendContext(context.Background(), payload)
}

// SendContext is Send with a parent context for tracing.
func (s *Session) SendContext(ctx context.Context, payload []byte) error {
	ctx, span := observability.StartMessageSpan(ctx, observability.SpanProduce, s.cfg.Topic, trace.SpanKindProducer,
		attribute.Int(observability.AttrWorker, s.worker))
	defer span.End()

	client := s.current()
	if client == nil {
		err := errors.SendFailed(s.cfg.Topic, kafka.ErrClientClosed)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, "send", err)
		return err
	}

	if perr := client.Produce(s.cfg.Topic, payload); perr != nil {
		err := errors.SendFailed(s.cfg.Topic, perr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, "send", err)
		return err
	}
	s.metrics.RecordSent(ctx, s.cfg.Topic)

	if s.cfg.AckMode == kafka.AckWaitLocal {
		s.poll(ctx, client, s.cfg.AckPollTimeout)
	}
	return nil
}

// Poll waits up to wait for delivery reports, logs failed deliveries and
// returns every report drained.
func (s *Session) Poll(wait time.Duration) []kafka.DeliveryReport {
	client := s.current()
	if client == nil {
		return nil
	}
	return s.poll(context.Background(), client, wait)
}

func (s *Session) poll(ctx context.Context, client kafka.ProducerClient, wait time.Duration) []kafka.DeliveryReport {
	reports := client.Poll(wait)
	for _, r := range reports {
		s.report(ctx, r)
	}
	return reports
}

func (s *Session) report(ctx context.Context, r kafka.DeliveryReport) {
	ok := r.Err == nil
	s.metrics.RecordDelivery(ctx, r.Topic, ok)
	if ok {
		s.log.Debug("Message delivered", logger.Fields(
			logger.FieldPartition, r.Partition,
			logger.FieldOffset, r.Offset,
		))
		return
	}
	err := errors.DeliveryFailed(r.Topic, r.Err)
	s.log.Error("Message delivery failed", logger.MergeWithError(logger.Fields(
		logger.FieldPartition, r.Partition,
		"bytes", r.Opaque,
	), err))
	s.metrics.RecordError(ctx, string(errors.ErrCodeDeliveryFailed), component)
}

// Pending returns the number of messages not yet reported.
func (s *Session) Pending() int {
	client := s.current()
	if client == nil {
		return 0
	}
	return client.Len()
}

// Stats returns client counters when the driver exposes them.
func (s *Session) Stats() (kafka.ClientStats, bool) {
	if r, ok := s.current().(kafka.StatsReporter); ok {
		return r.Stats(), true
	}
	return kafka.ClientStats{}, false
}

// Close flushes outstanding messages for at most FlushTimeout and releases
// the client. If the deadline expires the remaining messages are dropped
// and FLUSH_TIMEOUT is returned. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}

	ctx := context.Background()
	start := time.Now()
	remaining := client.Flush(s.cfg.FlushTimeout)
	s.poll(ctx, client, 0)
	s.metrics.RecordFlush(ctx, s.cfg.Topic, time.Since(start))

	var err error
	if remaining > 0 {
		err = errors.FlushTimeout(s.cfg.Topic, remaining, s.cfg.FlushTimeout)
		s.metrics.RecordDropped(ctx, s.cfg.Topic, remaining)
		s.fail(ctx, "flush", err)
	}

	if cerr := client.Close(); cerr != nil {
		s.log.Warn("Producer close failed", logger.ErrorFields("close", cerr))
		if err == nil {
			err = cerr
		}
	}
	s.log.Info("Producer closed", logger.DurationFields("close", time.Since(start)))
	return err
}

func (s *Session) fail(ctx context.Context, op string, err error) {
	code := string(errors.ErrCodeInternal)
	if appErr, ok := errors.AsAppError(err); ok {
		code = string(appErr.Code)
	}
	s.log.Error("Producer "+op+" failed", logger.MergeWithError(logger.Fields(
		logger.FieldOperation, op,
		"code", code,
	), err))
	s.metrics.RecordError(ctx, code, component)
}
