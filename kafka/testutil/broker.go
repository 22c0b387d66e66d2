package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/kafka/memory"
)

var seq atomic.Int64

// NewBroker registers an in-memory broker under a fresh address and
// removes it when t finishes. A stalled broker is resumed first so
// producer goroutines can exit.
func NewBroker(t testing.TB, opts ...memory.Option) *memory.Broker {
	t.Helper()
	addr := fmt.Sprintf("broker-%d.test:9092", seq.Add(1))
	b := memory.NewBroker(addr, opts...)
	t.Cleanup(func() {
		b.Resume()
		memory.Remove(addr)
	})
	return b
}

// ConsumerConfig returns a consumer config bound to b with short timeouts.
func ConsumerConfig(b *memory.Broker, topic, groupID string) kafka.Config {
	cfg := kafka.Config{
		Driver:         memory.DriverName,
		Brokers:        []string{b.Addr},
		Topic:          topic,
		GroupID:        groupID,
		ReceiveTimeout: 50 * time.Millisecond,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ProducerConfig returns a producer config bound to b with a one second
// flush deadline.
func ProducerConfig(b *memory.Broker, topic string) kafka.Config {
	cfg := kafka.Config{
		Driver:       memory.DriverName,
		Brokers:      []string{b.Addr},
		Topic:        topic,
		FlushTimeout: time.Second,
	}
	cfg.ApplyDefaults()
	return cfg
}

// WaitForMessages polls b until topic holds at least n messages and
// returns them. It fails the test after timeout.
func WaitForMessages(t testing.TB, b *memory.Broker, topic string, n int, timeout time.Duration) []*kafka.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		msgs := b.Messages(topic)
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages on %s, have %d", n, topic, len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Eventually polls cond until it holds or timeout expires.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: %s", timeout, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
