// Package consumer binds one worker to one consumer-group member.
//
// A Session moves Created → Subscribed → Closed. Connect creates the driver
// client and subscribes it to the configured topic; Receive and ConsumeOnce
// pull messages; Close leaves the group. Sessions are owned by exactly one
// worker and are not safe for concurrent Receive calls.
package consumer

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/resilience"
)

const component = "kafka.consumer"

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

// Session is one consumer-group member bound to one topic.
type Session struct {
	cfg      kafka.Config
	worker   int
	clientID string
	driver   kafka.Driver
	metrics  *observability.Metrics
	log      *logger.Logger

	mu     sync.Mutex
	client kafka.ConsumerClient
	closed bool
}

// New validates cfg for the consumer role and returns an unconnected
// session for worker. A nil log falls back to the global logger.
func New(cfg kafka.Config, worker int, log *logger.Logger, opts ...Option) (*Session, error) {
	cfg.ApplyDefaults()
	s := &Session{cfg: cfg, worker: worker}
	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.ValidateFor(kafka.RoleConsumer); err != nil {
		return nil, err
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
	s.clientID = kafka.NewClientID(cfg, kafka.RoleConsumer, worker)
	s.log = log.WithComponent(component).WithFields(logger.Fields(
		logger.FieldBrokers, cfg.Brokers,
		logger.FieldTopic, cfg.Topic,
		logger.FieldGroupID, cfg.GroupID,
		logger.FieldWorker, worker,
		logger.FieldClientID, s.clientID,
	))
	return s, nil
}

// Topic returns the subscribed topic.
func (s *Session) Topic() string { return s.cfg.Topic }

// GroupID returns the consumer group.
func (s *Session) GroupID() string { return s.cfg.GroupID }

// ClientID returns the client.id sent to the broker.
func (s *Session) ClientID() string { return s.clientID }

// Worker returns the owning worker index.
func (s *Session) Worker() int { return s.worker }

// Connect creates the client and subscribes it. On failure the client is
// released and CONNECTION_FAILED or SUBSCRIPTION_FAILED is returned. With
// kafka.connect_retry enabled, CONNECTION_FAILED is retried with backoff.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.SessionClosed("connect")
	}
	if s.client != nil {
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
		err = resilience.RetryFunc(ctx, rc, s.dial)
	} else {
		err = s.dial()
	}
	s.metrics.RecordConnect(ctx, string(kafka.RoleConsumer), s.cfg.Topic, time.Since(start))

	if err != nil {
		s.fail(ctx, "connect", err)
		return err
	}
	s.log.Info("Consumer subscribed", logger.DurationFields("connect", time.Since(start)))
	return nil
}

// dial creates and subscribes the client. Caller holds s.mu.
func (s *Session) dial() error {
	client, err := s.driver.NewConsumer(s.cfg, s.clientID)
	if err != nil {
		return kafka.ConnectError(s.cfg, err)
	}
	if err := client.Subscribe(s.cfg.Topic); err != nil {
		_ = client.Close()
		return kafka.SubscribeError(s.cfg, err)
	}
	s.client = client
	return nil
}

func (s *Session) current() kafka.ConsumerClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.client
}

// Receive waits up to timeout for the next message.
//
// It returns nil, nil on timeout. A message with Err set is a delivery
// error; it has been logged and the caller should keep receiving. A
// non-nil error means the session is closed or was never connected.
func (s *Session) Receive(timeout time.Duration) (*kafka.Message, error) {
	client := s.current()
	if client == nil {
		return nil, errors.SessionClosed("receive")
	}

	msg, err := client.Consume(timeout)
	if err != nil {
		if stderrors.Is(err, kafka.ErrClientClosed) {
			return nil, errors.SessionClosed("receive")
		}
		msg = &kafka.Message{Topic: s.cfg.Topic, Partition: -1, Offset: -1, Err: err}
	}
	if msg == nil {
		return nil, nil
	}

	if msg.Err != nil {
		if !errors.HasCode(msg.Err, errors.ErrCodeDeliveryFailed) {
			msg.Err = errors.DeliveryFailed(s.cfg.Topic, msg.Err)
		}
		s.fail(context.Background(), "receive", msg.Err)
	}
	return msg, nil
}

// ConsumeOnce runs one receive-and-handle iteration with the configured
// receive timeout. Timeouts, delivery errors and handler errors are not
// returned; only an unusable session is.
func (s *Session) ConsumeOnce(ctx context.Context, handler kafka.Handler) error {
	msg, err := s.Receive(s.cfg.ReceiveTimeout)
	if err != nil {
		return err
	}
	if msg == nil || msg.Err != nil {
		return nil
	}

	mc := observability.NewMessageContext(s.worker, msg.Topic, s.cfg.GroupID, msg.Partition, msg.Offset, s.metrics)
	hctx, span := mc.StartSpan(ctx)
	herr := handler(hctx, msg)
	mc.End(hctx, span, herr)

	if herr != nil {
		s.log.Error("Message processing failed", logger.MergeWithError(logger.Fields(
			logger.FieldPartition, msg.Partition,
			logger.FieldOffset, msg.Offset,
		), herr))
		code := string(errors.ErrCodeInternal)
		if appErr, ok := errors.AsAppError(herr); ok {
			code = string(appErr.Code)
		}
		s.metrics.RecordError(ctx, code, component)
	}
	return nil
}

// Stats returns client counters when the driver exposes them.
func (s *Session) Stats() (kafka.ClientStats, bool) {
	if r, ok := s.current().(kafka.StatsReporter); ok {
		return r.Stats(), true
	}
	return kafka.ClientStats{}, false
}

// Close leaves the group and releases the client. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client == nil {
		return nil
	}

	err := s.client.Close()
	s.client = nil
	if err != nil {
		s.log.Warn("Consumer close failed", logger.ErrorFields("close", err))
		return err
	}
	s.log.Info("Consumer closed")
	return nil
}

func (s *Session) fail(ctx context.Context, op string, err error) {
	code := string(errors.ErrCodeInternal)
	if appErr, ok := errors.AsAppError(err); ok {
		code = string(appErr.Code)
	}
	s.log.Error("Consumer "+op+" failed", logger.MergeWithError(logger.Fields(
		logger.FieldOperation, op,
		"code", code,
	), err))
	s.metrics.RecordError(ctx, code, component)
}
