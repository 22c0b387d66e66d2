package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/kafka/memory"
)

func TestNewBrokerIsRegistered(t *testing.T) {
	b := NewBroker(t)
	got, ok := memory.Lookup(b.Addr)
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.NotEqual(t, b.Addr, NewBroker(t).Addr)
}

func TestConfigsValidateForRole(t *testing.T) {
	b := NewBroker(t)
	c := ConsumerConfig(b, "orders", "g")
	assert.NoError(t, c.ValidateFor(kafka.RoleConsumer))
	p := ProducerConfig(b, "orders")
	assert.NoError(t, p.ValidateFor(kafka.RoleProducer))
}

func TestWaitForMessages(t *testing.T) {
	b := NewBroker(t)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _, _ = b.Publish("orders", nil, []byte("x"))
	}()
	msgs := WaitForMessages(t, b, "orders", 1, time.Second)
	assert.Equal(t, "x", string(msgs[0].Payload))
}
