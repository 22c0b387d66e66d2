// Package memory is an in-process broker and the "memory" kafka driver.
//
// A Broker is addressed by host:port like a real cluster; sessions whose
// first bootstrap address names a registered Broker talk to it. Addresses
// with no registered Broker get one created on first use, which makes the
// driver usable for dry runs of the CLI.
//
// Fault injection (SetUnreachable, Stall, FailDeliveries, InjectConsumeError)
// drives the error paths the sessions must survive.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/brokerpool/kafka"
)

const defaultPartitions = 4

var brokers sync.Map

// Option configures a Broker.
type Option func(*Broker)

// WithPartitions sets the partition count of auto-created topics.
func WithPartitions(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// WithoutAutoCreate makes unknown topics an error instead of creating them.
func WithoutAutoCreate() Option {
	return func(b *Broker) { b.autoCreate = false }
}

// Broker is an in-memory cluster.
type Broker struct {
	Addr string

	partitions int
	autoCreate bool

	topicLock sync.Mutex
	topics    map[string]*Topic

	unreachable atomic.Bool
	stallMu     sync.Mutex
	stalled     bool
	resumed     chan struct{}
	deliveryErr atomic.Value // error wrapped in errBox
}

type errBox struct{ err error }

// NewBroker creates and registers a broker at addr, replacing any
// previous broker at that address.
func NewBroker(addr string, opts ...Option) *Broker {
	b := newBroker(addr, opts...)
	brokers.Store(addr, b)
	return b
}

func newBroker(addr string, opts ...Option) *Broker {
	b := &Broker{
		Addr:       addr,
		partitions: defaultPartitions,
		autoCreate: true,
		topics:     make(map[string]*Topic),
		resumed:    make(chan struct{}),
	}
	close(b.resumed)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Lookup returns the broker registered at addr.
func Lookup(addr string) (*Broker, bool) {
	b, ok := brokers.Load(addr)
	if !ok {
		return nil, false
	}
	return b.(*Broker), true
}

// Remove unregisters the broker at addr.
func Remove(addr string) {
	brokers.Delete(addr)
}

func resolve(cfg kafka.Config) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no bootstrap brokers")
	}
	addr := cfg.Brokers[0]
	if b, ok := Lookup(addr); ok {
		if b.unreachable.Load() {
			return nil, fmt.Errorf("dial tcp %s: connection refused", addr)
		}
		return b, nil
	}
	b, _ := brokers.LoadOrStore(addr, newBroker(addr))
	return b.(*Broker), nil
}

// SetUnreachable makes new connections fail with a dial error.
func (b *Broker) SetUnreachable(v bool) { b.unreachable.Store(v) }

// Stall holds every produced message undelivered until Resume.
func (b *Broker) Stall() {
	b.stallMu.Lock()
	defer b.stallMu.Unlock()
	if !b.stalled {
		b.stalled = true
		b.resumed = make(chan struct{})
	}
}

// Resume releases a stalled broker.
func (b *Broker) Resume() {
	b.stallMu.Lock()
	defer b.stallMu.Unlock()
	if b.stalled {
		b.stalled = false
		close(b.resumed)
	}
}

// flowing returns a channel that is closed while the broker accepts
// deliveries.
func (b *Broker) flowing() <-chan struct{} {
	b.stallMu.Lock()
	defer b.stallMu.Unlock()
	return b.resumed
}

// FailDeliveries makes every delivery report carry err. Pass nil to stop.
func (b *Broker) FailDeliveries(err error) {
	b.deliveryErr.Store(errBox{err})
}

func (b *Broker) deliveryError() error {
	v, _ := b.deliveryErr.Load().(errBox)
	return v.err
}

// CreateTopic creates a topic with the given number of partitions.
func (b *Broker) CreateTopic(name string, partitions int) (*Topic, error) {
	b.topicLock.Lock()
	defer b.topicLock.Unlock()
	if _, ok := b.topics[name]; ok {
		return nil, fmt.Errorf("topic with name %s already exists", name)
	}
	t := newTopic(name, partitions)
	b.topics[name] = t
	return t, nil
}

// Topic returns a topic, creating it when auto-create is on.
func (b *Broker) Topic(name string) (*Topic, error) {
	b.topicLock.Lock()
	defer b.topicLock.Unlock()
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	if !b.autoCreate {
		return nil, fmt.Errorf("%w: %s", kafka.ErrUnknownTopic, name)
	}
	t := newTopic(name, b.partitions)
	b.topics[name] = t
	return t, nil
}

// Publish appends payload to topic directly, bypassing any producer.
func (b *Broker) Publish(topic string, key, payload []byte) (partition int, offset int64, err error) {
	t, err := b.Topic(topic)
	if err != nil {
		return 0, 0, err
	}
	p, off := t.append(key, payload, time.Now())
	return p, off, nil
}

// InjectConsumeError queues err to be returned, as a message delivery
// error, by the next Consume on topic.
func (b *Broker) InjectConsumeError(topic string, err error) error {
	t, err2 := b.Topic(topic)
	if err2 != nil {
		return err2
	}
	t.injectError(err)
	return nil
}

// Messages returns every message stored in topic, partition by partition.
func (b *Broker) Messages(topic string) []*kafka.Message {
	b.topicLock.Lock()
	t, ok := b.topics[topic]
	b.topicLock.Unlock()
	if !ok {
		return nil
	}
	return t.snapshot()
}

// MessageCount returns the number of messages stored in topic.
func (b *Broker) MessageCount(topic string) int {
	return len(b.Messages(topic))
}
