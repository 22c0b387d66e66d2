package memory

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/kafka"
)

func testBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	addr := fmt.Sprintf("%s.test:9092", t.Name())
	b := NewBroker(addr, opts...)
	t.Cleanup(func() {
		b.Resume()
		Remove(addr)
	})
	return b
}

func testConfig(b *Broker) kafka.Config {
	cfg := kafka.Config{Driver: DriverName, Brokers: []string{b.Addr}, Topic: "t", GroupID: "g", QueueSize: 8}
	cfg.ApplyDefaults()
	return cfg
}

func TestDriverRegistered(t *testing.T) {
	assert.True(t, kafka.IsRegistered(DriverName))
}

func TestResolveAutoCreatesBroker(t *testing.T) {
	addr := "auto-created.test:9092"
	t.Cleanup(func() { Remove(addr) })

	_, ok := Lookup(addr)
	require.False(t, ok)

	c, err := Driver{}.NewConsumer(kafka.Config{Brokers: []string{addr}}, "c")
	require.NoError(t, err)
	defer c.Close()

	_, ok = Lookup(addr)
	assert.True(t, ok)
}

func TestKeyedMessagesStayOnOnePartition(t *testing.T) {
	b := testBroker(t, WithPartitions(8))
	var partitions []int
	for i := 0; i < 5; i++ {
		p, off, err := b.Publish("t", []byte("customer-42"), []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, int64(i), off)
		partitions = append(partitions, p)
	}
	for _, p := range partitions {
		assert.Equal(t, partitions[0], p)
	}
}

func TestKeylessMessagesRoundRobin(t *testing.T) {
	b := testBroker(t, WithPartitions(3))
	seen := map[int]int{}
	for i := 0; i < 6; i++ {
		p, _, err := b.Publish("t", nil, []byte("x"))
		require.NoError(t, err)
		seen[p]++
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 2}, seen)
}

func TestCreateTopicTwiceFails(t *testing.T) {
	b := testBroker(t)
	_, err := b.CreateTopic("t", 2)
	require.NoError(t, err)
	_, err = b.CreateTopic("t", 2)
	assert.ErrorContains(t, err, "already exists")
}

func TestUnknownTopicWithoutAutoCreate(t *testing.T) {
	b := testBroker(t, WithoutAutoCreate())
	c, err := Driver{}.NewConsumer(testConfig(b), "c")
	require.NoError(t, err)
	defer c.Close()

	err = c.Subscribe("missing")
	assert.True(t, stderrors.Is(err, kafka.ErrUnknownTopic))
}

func TestConsumerCommitsGroupOffsets(t *testing.T) {
	b := testBroker(t, WithPartitions(2))
	c, err := Driver{}.NewConsumer(testConfig(b), "c")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe("t"))

	for i := 0; i < 4; i++ {
		_, _, err := b.Publish("t", nil, []byte("x"))
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		m, err := c.Consume(time.Second)
		require.NoError(t, err)
		require.NotNil(t, m)
	}
	topic, err := b.Topic("t")
	require.NoError(t, err)
	assert.Equal(t, int64(4), topic.Committed("g"))
	assert.Equal(t, int64(0), topic.Committed("other"))

	require.NoError(t, c.Close())
	_, err = c.Consume(time.Millisecond)
	assert.ErrorIs(t, err, kafka.ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestConsumeWakesOnPublish(t *testing.T) {
	b := testBroker(t)
	c, err := Driver{}.NewConsumer(testConfig(b), "c")
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Subscribe("t"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = b.Publish("t", nil, []byte("late"))
	}()
	m, err := c.Consume(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "late", string(m.Payload))
}

func TestIdleMemberBeyondPartitionCount(t *testing.T) {
	b := testBroker(t, WithPartitions(1))
	cfg := testConfig(b)
	c1, err := Driver{}.NewConsumer(cfg, "c1")
	require.NoError(t, err)
	defer c1.Close()
	c2, err := Driver{}.NewConsumer(cfg, "c2")
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c1.Subscribe("t"))
	require.NoError(t, c2.Subscribe("t"))

	_, _, err = b.Publish("t", nil, []byte("x"))
	require.NoError(t, err)

	m, err := c2.Consume(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, m)
	m, err = c1.Consume(time.Second)
	require.NoError(t, err)
	assert.NotNil(t, m)

	// leaving the group hands the partition to the idle member
	require.NoError(t, c1.Close())
	_, _, err = b.Publish("t", nil, []byte("y"))
	require.NoError(t, err)
	m, err = c2.Consume(time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "y", string(m.Payload))
}

func TestProducerQueueFullAndClosed(t *testing.T) {
	b := testBroker(t)
	cfg := testConfig(b)
	cfg.QueueSize = 1
	p, err := Driver{}.NewProducer(cfg, "p")
	require.NoError(t, err)
	b.Stall()

	require.NoError(t, p.Produce("t", []byte("a")))
	assert.ErrorIs(t, p.Produce("t", []byte("b")), kafka.ErrQueueFull)
	assert.Equal(t, 1, p.Flush(10*time.Millisecond))

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Produce("t", []byte("c")), kafka.ErrClientClosed)
	assert.NoError(t, p.Close())
}

func TestProducerCopiesPayload(t *testing.T) {
	b := testBroker(t)
	p, err := Driver{}.NewProducer(testConfig(b), "p")
	require.NoError(t, err)
	defer p.Close()

	buf := []byte("abc")
	require.NoError(t, p.Produce("t", buf))
	buf[0] = 'z'
	assert.Equal(t, 0, p.Flush(time.Second))
	assert.Equal(t, "abc", string(b.Messages("t")[0].Payload))
}
