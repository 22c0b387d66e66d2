//go:build confluent
// +build confluent

package confluent

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
)

// DriverName is the registry name of this driver.
const DriverName = "confluent"

func init() {
	kafka.Register(DriverName, Driver{})
}

// Driver creates librdkafka clients.
type Driver struct{}

func ms(d time.Duration) int {
	return int(d.Milliseconds())
}

// configMap translates the shared broker config into librdkafka properties.
func configMap(cfg kafka.Config, clientID string, role kafka.Role) (*ck.ConfigMap, error) {
	cm := &ck.ConfigMap{}
	_ = cm.SetKey("bootstrap.servers", kafka.BrokerList(cfg))
	_ = cm.SetKey("client.id", clientID)
	_ = cm.SetKey("socket.connection.setup.timeout.ms", ms(cfg.DialTimeout))
	_ = cm.SetKey("metadata.max.age.ms", ms(cfg.MetadataTTL))

	switch role {
	case kafka.RoleConsumer:
		_ = cm.SetKey("group.id", cfg.GroupID)
		_ = cm.SetKey("auto.offset.reset", string(cfg.OffsetReset))
		_ = cm.SetKey("session.timeout.ms", ms(cfg.SessionTimeout))
		_ = cm.SetKey("heartbeat.interval.ms", ms(cfg.HeartbeatInterval))
	case kafka.RoleProducer:
		_ = cm.SetKey("go.delivery.reports", true)
		_ = cm.SetKey("queue.buffering.max.messages", cfg.QueueSize)
		_ = cm.SetKey("linger.ms", ms(cfg.BatchTimeout))
		_ = cm.SetKey("batch.num.messages", cfg.BatchSize)
		_ = cm.SetKey("compression.codec", cfg.Compression)
		_ = cm.SetKey("acks", strconv.Itoa(cfg.RequiredAcks))
		_ = cm.SetKey("request.timeout.ms", ms(cfg.WriteTimeout))
	}

	protocol := "plaintext"
	switch {
	case cfg.EnableTLS && cfg.EnableSASL:
		protocol = "sasl_ssl"
	case cfg.EnableTLS:
		protocol = "ssl"
	case cfg.EnableSASL:
		protocol = "sasl_plaintext"
	}
	_ = cm.SetKey("security.protocol", protocol)

	if cfg.EnableTLS {
		if cfg.TLSCAFile != "" {
			_ = cm.SetKey("ssl.ca.location", cfg.TLSCAFile)
		}
		if cfg.TLSCertFile != "" {
			_ = cm.SetKey("ssl.certificate.location", cfg.TLSCertFile)
			_ = cm.SetKey("ssl.key.location", cfg.TLSKeyFile)
		}
		if cfg.TLSSkipVerify {
			_ = cm.SetKey("enable.ssl.certificate.verification", false)
		}
	}
	if cfg.EnableSASL {
		_ = cm.SetKey("sasl.mechanisms", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.Username)
		_ = cm.SetKey("sasl.password", cfg.Password)
	}
	return cm, nil
}

// classify maps librdkafka error codes onto the driver sentinels.
func classify(err error) error {
	var kerr ck.Error
	if !stderrors.As(err, &kerr) {
		return err
	}
	switch kerr.Code() {
	case ck.ErrTransport, ck.ErrAllBrokersDown, ck.ErrTimedOut, ck.ErrResolve:
		return fmt.Errorf("%w: %v", kafka.ErrBrokerUnreachable, err)
	case ck.ErrUnknownTopicOrPart, ck.ErrUnknownTopic:
		return fmt.Errorf("%w: %v", kafka.ErrUnknownTopic, err)
	case ck.ErrQueueFull:
		return fmt.Errorf("%w: %v", kafka.ErrQueueFull, err)
	default:
		return err
	}
}

// NewConsumer implements kafka.Driver. librdkafka connects lazily, so a
// metadata request stands in for the connect.
func (Driver) NewConsumer(cfg kafka.Config, clientID string) (kafka.ConsumerClient, error) {
	cm, err := configMap(cfg, clientID, kafka.RoleConsumer)
	if err != nil {
		return nil, err
	}
	c, err := ck.NewConsumer(cm)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetMetadata(nil, false, ms(cfg.DialTimeout)); err != nil {
		_ = c.Close()
		return nil, classify(err)
	}
	return &consumer{cfg: cfg, c: c}, nil
}

// NewProducer implements kafka.Driver.
func (Driver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	cm, err := configMap(cfg, clientID, kafka.RoleProducer)
	if err != nil {
		return nil, err
	}
	p, err := ck.NewProducer(cm)
	if err != nil {
		return nil, err
	}
	if _, err := p.GetMetadata(nil, false, ms(cfg.DialTimeout)); err != nil {
		p.Close()
		return nil, classify(err)
	}

	pr := &producer{
		p:      p,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    logger.WithComponent("kafka.confluent.producer").WithFields(logger.Fields(logger.FieldClientID, clientID)),
	}
	pr.wg.Add(1)
	go pr.events()
	return pr, nil
}

type consumer struct {
	cfg kafka.Config

	lock   sync.Mutex
	c      *ck.Consumer
	closed bool
}

func (c *consumer) Subscribe(topic string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return kafka.ErrClientClosed
	}

	md, err := c.c.GetMetadata(&topic, false, ms(c.cfg.DialTimeout))
	if err != nil {
		return classify(err)
	}
	if tm, ok := md.Topics[topic]; ok && tm.Error.Code() != ck.ErrNoError {
		return classify(tm.Error)
	}
	return c.c.Subscribe(topic, nil)
}

func (c *consumer) Consume(timeout time.Duration) (*kafka.Message, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, kafka.ErrClientClosed
	}

	ev := c.c.Poll(ms(timeout))
	switch e := ev.(type) {
	case nil:
		return nil, nil
	case *ck.Message:
		if e.TopicPartition.Error != nil {
			return &kafka.Message{Topic: c.cfg.Topic, Partition: -1, Offset: -1, Err: e.TopicPartition.Error}, nil
		}
		return toMessage(e), nil
	case ck.Error:
		return &kafka.Message{Topic: c.cfg.Topic, Partition: -1, Offset: -1, Err: e}, nil
	default:
		// rebalance and stats events
		return nil, nil
	}
}

func (c *consumer) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}

func toMessage(m *ck.Message) *kafka.Message {
	msg := &kafka.Message{
		Key:       m.Key,
		Payload:   m.Value,
		Partition: int(m.TopicPartition.Partition),
		Offset:    int64(m.TopicPartition.Offset),
		Timestamp: m.Timestamp,
	}
	if m.TopicPartition.Topic != nil {
		msg.Topic = *m.TopicPartition.Topic
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			msg.Headers[hdr.Key] = string(hdr.Value)
		}
	}
	return msg
}

type producer struct {
	p   *ck.Producer
	log *logger.Logger

	mu      sync.Mutex
	reports []kafka.DeliveryReport
	signal  chan struct{}

	closeOnce sync.Once
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

func (p *producer) events() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.p.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *ck.Message:
				r := kafka.DeliveryReport{
					Partition: int(e.TopicPartition.Partition),
					Offset:    int64(e.TopicPartition.Offset),
					Err:       e.TopicPartition.Error,
				}
				if e.TopicPartition.Topic != nil {
					r.Topic = *e.TopicPartition.Topic
				}
				r.Opaque, _ = e.Opaque.(int)
				p.record(r)
			case ck.Error:
				p.log.Warn("Producer client error", logger.ErrorFields("produce", e))
			}
		}
	}
}

func (p *producer) record(r kafka.DeliveryReport) {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *producer) Produce(topic string, payload []byte) error {
	if p.isClosed() {
		return kafka.ErrClientClosed
	}
	err := p.p.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Value:          payload,
		Opaque:         len(payload),
	}, nil)
	if err != nil {
		return classify(err)
	}
	return nil
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
	if p.isClosed() {
		return p.p.Len()
	}
	return p.p.Flush(ms(maxWait))
}

func (p *producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p.Len() + len(p.reports)
}

func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		p.p.Close()
	})
	return nil
}
