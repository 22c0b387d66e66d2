package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/brokerpool/kafka"
)

// DriverName is the registry name of this driver.
const DriverName = "memory"

func init() {
	kafka.Register(DriverName, Driver{})
}

// Driver creates clients bound to in-memory brokers.
type Driver struct{}

// NewConsumer implements kafka.Driver.
func (Driver) NewConsumer(cfg kafka.Config, clientID string) (kafka.ConsumerClient, error) {
	b, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	return &consumer{broker: b, cfg: cfg, clientID: clientID}, nil
}

// NewProducer implements kafka.Driver.
func (Driver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	b, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	p := &producer{
		broker:   b,
		clientID: clientID,
		capacity: cfg.QueueSize,
		queue:    make(chan outbound, cfg.QueueSize),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

type consumer struct {
	broker   *Broker
	cfg      kafka.Config
	clientID string

	mu     sync.Mutex
	sub    *subscriber
	closed bool
}

func (c *consumer) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kafka.ErrClientClosed
	}
	if c.broker.unreachable.Load() {
		return fmt.Errorf("dial tcp %s: connection refused", c.broker.Addr)
	}
	t, err := c.broker.Topic(topic)
	if err != nil {
		return err
	}
	if c.sub != nil {
		c.sub.topic.unsubscribe(c.sub)
	}
	c.sub = t.subscribe(c.cfg.GroupID, c.cfg.OffsetReset)
	return nil
}

func (c *consumer) Consume(timeout time.Duration) (*kafka.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, kafka.ErrClientClosed
	}
	sub := c.sub
	c.mu.Unlock()

	if sub == nil {
		return nil, fmt.Errorf("consumer %s is not subscribed", c.clientID)
	}
	return sub.next(timeout)
}

func (c *consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sub != nil {
		c.sub.topic.unsubscribe(c.sub)
	}
	return nil
}

type outbound struct {
	topic   string
	payload []byte
}

type producer struct {
	broker   *Broker
	clientID string
	capacity int

	queue       chan outbound
	undelivered atomic.Int64

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
	buf := make([]byte, len(payload))
	copy(buf, payload)

	p.undelivered.Add(1)
	select {
	case p.queue <- outbound{topic: topic, payload: buf}:
		return nil
	default:
		p.undelivered.Add(-1)
		return kafka.ErrQueueFull
	}
}

func (p *producer) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case m := <-p.queue:
			select {
			case <-p.broker.flowing():
			case <-p.done:
				return
			}
			p.deliver(m)
		}
	}
}

func (p *producer) deliver(m outbound) {
	report := kafka.DeliveryReport{Topic: m.topic, Partition: -1, Offset: -1, Opaque: len(m.payload)}
	t, err := p.broker.Topic(m.topic)
	switch {
	case err != nil:
		report.Err = err
	case p.broker.deliveryError() != nil:
		report.Err = p.broker.deliveryError()
	default:
		report.Partition, report.Offset = t.append(nil, m.payload, time.Now())
	}

	p.mu.Lock()
	p.reports = append(p.reports, report)
	p.undelivered.Add(-1)
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
		remaining := int(p.undelivered.Load())
		if remaining == 0 || p.closed.Load() || !time.Now().Before(deadline) {
			return remaining
		}
		time.Sleep(minDuration(5*time.Millisecond, time.Until(deadline)))
	}
}

func (p *producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.undelivered.Load()) + len(p.reports)
}

func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
