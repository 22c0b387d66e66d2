// Package kafkago is the default kafka driver, built on segmentio/kafka-go.
//
// Consumers wrap a group Reader; producers wrap an asynchronous Writer whose
// completion callback feeds the delivery-report queue drained by Poll.
package kafkago

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
)

// DriverName is the registry name of this driver.
const DriverName = kafka.DefaultDriver

// closeGrace bounds how long Close waits for the writer to shut down.
const closeGrace = 250 * time.Millisecond

func init() {
	kafka.Register(DriverName, Driver{})
}

// Driver creates kafka-go clients.
type Driver struct{}

// NewConsumer implements kafka.Driver.
func (Driver) NewConsumer(cfg kafka.Config, clientID string) (kafka.ConsumerClient, error) {
	dialer, err := newDialer(cfg, clientID)
	if err != nil {
		return nil, err
	}
	addr, err := probe(cfg, dialer)
	if err != nil {
		return nil, err
	}
	return &consumer{
		cfg:       cfg,
		dialer:    dialer,
		bootstrap: addr,
		log:       logger.WithComponent("kafka.kafkago.consumer").WithFields(logger.Fields(logger.FieldClientID, clientID)),
	}, nil
}

// NewProducer implements kafka.Driver.
func (Driver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	dialer, err := newDialer(cfg, clientID)
	if err != nil {
		return nil, err
	}
	if _, err := probe(cfg, dialer); err != nil {
		return nil, err
	}
	transport, err := newTransport(cfg, clientID)
	if err != nil {
		return nil, err
	}

	plog := logger.WithComponent("kafka.kafkago.producer").WithFields(logger.Fields(logger.FieldClientID, clientID))
	p := &producer{
		capacity: cfg.QueueSize,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	p.writer = &kgo.Writer{
		Addr:         kgo.TCP(cfg.Brokers...),
		Transport:    transport,
		Balancer:     &kgo.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kgo.RequiredAcks(cfg.RequiredAcks),
		Compression:  ResolveCompression(cfg.Compression),
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion:   p.complete,
		ErrorLogger: kgo.LoggerFunc(func(msg string, args ...interface{}) {
			plog.Error("writer: "+msg, map[string]interface{}{
				"args": fmt.Sprintf("%v", args),
			})
		}),
	}
	return p, nil
}

type consumer struct {
	cfg       kafka.Config
	dialer    *kgo.Dialer
	bootstrap string
	log       *logger.Logger

	mu     sync.Mutex
	reader *kgo.Reader
	closed bool
}

func (c *consumer) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kafka.ErrClientClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	if _, err := c.dialer.LookupPartitions(ctx, "tcp", c.bootstrap, topic); err != nil {
		if stderrors.Is(err, kgo.UnknownTopicOrPartition) {
			return fmt.Errorf("%w: %s", kafka.ErrUnknownTopic, topic)
		}
		return err
	}

	startOffset := kgo.FirstOffset
	if c.cfg.OffsetReset == kafka.OffsetLatest {
		startOffset = kgo.LastOffset
	}

	if c.reader != nil {
		_ = c.reader.Close()
	}
	c.reader = kgo.NewReader(kgo.ReaderConfig{
		Brokers:           c.cfg.Brokers,
		Topic:             topic,
		GroupID:           c.cfg.GroupID,
		Dialer:            c.dialer,
		StartOffset:       startOffset,
		MinBytes:          1,
		MaxBytes:          10e6,
		SessionTimeout:    c.cfg.SessionTimeout,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		RebalanceTimeout:  c.cfg.RebalanceTimeout,
		ErrorLogger: kgo.LoggerFunc(func(msg string, args ...interface{}) {
			c.log.Error("reader: "+msg, map[string]interface{}{
				"args":            fmt.Sprintf("%v", args),
				logger.FieldTopic: topic,
			})
		}),
	})
	return nil
}

func (c *consumer) Consume(timeout time.Duration) (*kafka.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, kafka.ErrClientClosed
	}
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("consumer is not subscribed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m, err := reader.ReadMessage(ctx)
	switch {
	case err == nil:
		return toMessage(m), nil
	case stderrors.Is(err, context.DeadlineExceeded):
		return nil, nil
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrClosedPipe):
		return nil, kafka.ErrClientClosed
	default:
		return &kafka.Message{Topic: reader.Config().Topic, Partition: -1, Offset: -1, Err: err}, nil
	}
}

func (c *consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Stats implements kafka.StatsReporter.
func (c *consumer) Stats() kafka.ClientStats {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return kafka.ClientStats{}
	}
	s := reader.Stats()
	return kafka.ClientStats{
		Messages: s.Messages,
		Bytes:    s.Bytes,
		Errors:   s.Errors,
		Lag:      s.Lag,
	}
}

func toMessage(m kgo.Message) *kafka.Message {
	msg := &kafka.Message{
		Key:       m.Key,
		Payload:   m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Timestamp: m.Time,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}

type producer struct {
	writer   *kgo.Writer
	capacity int

	inflight atomic.Int64

	mu      sync.Mutex
	reports []kafka.DeliveryReport
	signal  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (p *producer) Produce(topic string, payload []byte) error {
	if p.closed.Load() {
		return kafka.ErrClientClosed
	}
	if p.Len() >= p.capacity {
		return kafka.ErrQueueFull
	}

	p.inflight.Add(1)
	err := p.writer.WriteMessages(context.Background(), kgo.Message{Topic: topic, Value: payload})
	if err != nil {
		p.inflight.Add(-1)
		if stderrors.Is(err, io.ErrClosedPipe) {
			return kafka.ErrClientClosed
		}
		return err
	}
	return nil
}

// complete is the writer's completion callback.
func (p *producer) complete(messages []kgo.Message, err error) {
	p.mu.Lock()
	for _, m := range messages {
		p.reports = append(p.reports, kafka.DeliveryReport{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Err:       err,
			Opaque:    len(m.Value),
		})
	}
	p.inflight.Add(-int64(len(messages)))
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *producer) Poll(wait time.Duration) []kafka.DeliveryReport {
	if out := p.takeReports(); len(out) > 0 || wait <= 0 {
		return out
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.signal:
	case <-timer.C:
	case <-p.done:
	}
	return p.takeReports()
}

func (p *producer) takeReports() []kafka.DeliveryReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.reports
	p.reports = nil
	return out
}

func (p *producer) Flush(maxWait time.Duration) int {
	deadline := time.Now().Add(maxWait)
	for {
		remaining := int(p.inflight.Load())
		if remaining == 0 || p.closed.Load() || !time.Now().Before(deadline) {
			return remaining
		}
		wait := 5 * time.Millisecond
		if left := time.Until(deadline); left < wait {
			wait = left
		}
		time.Sleep(wait)
	}
}

func (p *producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.inflight.Load()) + len(p.reports)
}

// Close stops accepting messages and shuts the writer down in the
// background; undelivered messages are abandoned.
func (p *producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		result := make(chan error, 1)
		go func() { result <- p.writer.Close() }()
		select {
		case err = <-result:
		case <-time.After(closeGrace):
		}
	})
	return err
}

// Stats implements kafka.StatsReporter.
func (p *producer) Stats() kafka.ClientStats {
	s := p.writer.Stats()
	return kafka.ClientStats{
		Messages: s.Messages,
		Bytes:    s.Bytes,
		Errors:   s.Errors,
		Retries:  s.Retries,
	}
}
