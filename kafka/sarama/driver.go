// Package sarama is a kafka driver built on IBM/sarama.
//
// Consumers run a ConsumerGroup session in the background and hand claimed
// messages to Consume one at a time, marking each offset once it has been
// handed over. Producers wrap an AsyncProducer whose success and error
// channels feed the delivery-report queue.
package sarama

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sr "github.com/IBM/sarama"

	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
)

// DriverName is the registry name of this driver.
const DriverName = "sarama"

const closeGrace = 250 * time.Millisecond

func init() {
	kafka.Register(DriverName, Driver{})
}

// Driver creates sarama clients.
type Driver struct{}

// NewConsumer implements kafka.Driver.
func (Driver) NewConsumer(cfg kafka.Config, clientID string) (kafka.ConsumerClient, error) {
	sc, err := newConfig(cfg, clientID)
	if err != nil {
		return nil, err
	}
	client, err := sr.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &consumer{
		cfg:      cfg,
		client:   client,
		messages: make(chan claimed),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
		log:      logger.WithComponent("kafka.sarama.consumer").WithFields(logger.Fields(logger.FieldClientID, clientID)),
	}, nil
}

// NewProducer implements kafka.Driver.
func (Driver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	sc, err := newConfig(cfg, clientID)
	if err != nil {
		return nil, err
	}
	client, err := sr.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	ap, err := sr.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	p := &producer{
		client:   client,
		ap:       ap,
		capacity: cfg.QueueSize,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	p.wg.Add(2)
	go p.drainSuccesses()
	go p.drainErrors()
	return p, nil
}

type claimed struct {
	msg  *sr.ConsumerMessage
	sess sr.ConsumerGroupSession
}

type consumer struct {
	cfg    kafka.Config
	client sr.Client
	log    *logger.Logger

	mu     sync.Mutex
	group  sr.ConsumerGroup
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messages chan claimed
	errs     chan error

	closeOnce sync.Once
	done      chan struct{}
}

func (c *consumer) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return kafka.ErrClientClosed
	default:
	}
	if c.group != nil {
		return fmt.Errorf("already subscribed")
	}

	if _, err := c.client.Partitions(topic); err != nil {
		if stderrors.Is(err, sr.ErrUnknownTopicOrPartition) {
			return fmt.Errorf("%w: %s", kafka.ErrUnknownTopic, topic)
		}
		return err
	}

	group, err := sr.NewConsumerGroupFromClient(c.cfg.GroupID, c.client)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.group, c.cancel = group, cancel

	c.wg.Add(2)
	go c.run(ctx, topic)
	go c.forwardErrors()
	return nil
}

// run keeps the group session alive across rebalances.
func (c *consumer) run(ctx context.Context, topic string) {
	defer c.wg.Done()
	h := &groupHandler{c: c}
	for ctx.Err() == nil {
		if err := c.group.Consume(ctx, []string{topic}, h); err != nil {
			if stderrors.Is(err, sr.ErrClosedConsumerGroup) {
				return
			}
			c.pushErr(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *consumer) forwardErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.pushErr(err)
	}
}

func (c *consumer) pushErr(err error) {
	select {
	case c.errs <- err:
	default:
		c.log.Warn("Dropping consumer error, queue full", logger.ErrorFields("consume", err))
	}
}

func (c *consumer) Consume(timeout time.Duration) (*kafka.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil, kafka.ErrClientClosed
	case err := <-c.errs:
		return &kafka.Message{Topic: c.cfg.Topic, Partition: -1, Offset: -1, Err: err}, nil
	case cm := <-c.messages:
		cm.sess.MarkMessage(cm.msg, "")
		return toMessage(cm.msg), nil
	case <-timer.C:
		return nil, nil
	}
}

func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		group, cancel := c.group, c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if group != nil {
			err = group.Close()
		}
		c.wg.Wait()
		if cerr := c.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

type groupHandler struct {
	c *consumer
}

func (groupHandler) Setup(sr.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sr.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sr.ConsumerGroupSession, claim sr.ConsumerGroupClaim) error {
	for {
		select {
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.c.messages <- claimed{msg: m, sess: sess}:
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func toMessage(m *sr.ConsumerMessage) *kafka.Message {
	msg := &kafka.Message{
		Key:       m.Key,
		Payload:   m.Value,
		Topic:     m.Topic,
		Partition: int(m.Partition),
		Offset:    m.Offset,
		Timestamp: m.Timestamp,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}

type producer struct {
	client   sr.Client
	ap       sr.AsyncProducer
	capacity int

	inflight atomic.Int64

	mu      sync.Mutex
	reports []kafka.DeliveryReport
	signal  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func (p *producer) Produce(topic string, payload []byte) error {
	if p.closed.Load() {
		return kafka.ErrClientClosed
	}
	if p.Len() >= p.capacity {
		return kafka.ErrQueueFull
	}

	p.inflight.Add(1)
	select {
	case p.ap.Input() <- &sr.ProducerMessage{Topic: topic, Value: sr.ByteEncoder(payload), Metadata: len(payload)}:
		return nil
	default:
		p.inflight.Add(-1)
		return kafka.ErrQueueFull
	}
}

func (p *producer) drainSuccesses() {
	defer p.wg.Done()
	for m := range p.ap.Successes() {
		p.record(kafka.DeliveryReport{
			Topic:     m.Topic,
			Partition: int(m.Partition),
			Offset:    m.Offset,
			Opaque:    opaque(m),
		})
	}
}

func (p *producer) drainErrors() {
	defer p.wg.Done()
	for e := range p.ap.Errors() {
		r := kafka.DeliveryReport{Partition: -1, Offset: -1, Err: e.Err}
		if e.Msg != nil {
			r.Topic, r.Opaque = e.Msg.Topic, opaque(e.Msg)
		}
		p.record(r)
	}
}

func opaque(m *sr.ProducerMessage) int {
	n, _ := m.Metadata.(int)
	return n
}

func (p *producer) record(r kafka.DeliveryReport) {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.inflight.Add(-1)
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

// Close stops accepting messages and shuts the producer down in the
// background; undelivered messages are abandoned.
func (p *producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		result := make(chan error, 1)
		go func() {
			p.ap.AsyncClose()
			p.wg.Wait()
			result <- p.client.Close()
		}()
		select {
		case err = <-result:
		case <-time.After(closeGrace):
		}
	})
	return err
}
