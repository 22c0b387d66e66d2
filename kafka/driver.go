package kafka

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultDriver is used when kafka.driver is empty.
const DefaultDriver = "kafkago"

// Driver creates broker clients. Implementations register themselves from
// an init function so a blank import is enough to make them selectable.
type Driver interface {
	// NewConsumer connects a consumer client. It does not subscribe.
	NewConsumer(cfg Config, clientID string) (ConsumerClient, error)
	// NewProducer connects a producer client.
	NewProducer(cfg Config, clientID string) (ProducerClient, error)
}

// ConsumerClient is one consumer group member.
type ConsumerClient interface {
	// Subscribe binds the client to topic.
	Subscribe(topic string) error
	// Consume waits up to timeout for the next message. It returns nil, nil
	// on timeout and ErrClientClosed once the client is closed.
	Consume(timeout time.Duration) (*Message, error)
	// Close leaves the group and releases the client.
	Close() error
}

// ProducerClient is one asynchronous producer.
type ProducerClient interface {
	// Produce enqueues payload for topic with automatic partition
	// assignment. It returns ErrQueueFull when the local queue is at capacity.
	Produce(topic string, payload []byte) error
	// Poll waits up to wait for delivery reports and returns those available.
	Poll(wait time.Duration) []DeliveryReport
	// Flush waits up to maxWait for outstanding messages and returns how
	// many are still undelivered.
	Flush(maxWait time.Duration) int
	// Len returns the number of messages not yet reported.
	Len() int
	// Close releases the client without waiting.
	Close() error
}

// StatsReporter is implemented by clients that expose counters.
type StatsReporter interface {
	Stats() ClientStats
}

// ClientStats is a driver-neutral snapshot of client counters.
type ClientStats struct {
	Messages int64 `json:"messages"`
	Bytes    int64 `json:"bytes"`
	Errors   int64 `json:"errors"`
	Retries  int64 `json:"retries,omitempty"`
	Lag      int64 `json:"lag,omitempty"`
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name. It panics on a duplicate name.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("kafka: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("kafka: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("kafka: unknown driver %q (forgotten import?)", name)
	}
	return d, nil
}

// IsRegistered reports whether name has a driver.
func IsRegistered(name string) bool {
	driversMu.RLock()
	defer driversMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Drivers returns the sorted names of registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
