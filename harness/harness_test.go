package harness_test

import (
	"context"
	"os"
	"path/filepath"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/component"
	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/hardware"
	"github.com/kbukum/brokerpool/harness"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/kafka/memory"
	"github.com/kbukum/brokerpool/kafka/testutil"
	"github.com/kbukum/brokerpool/logger"
	redistest "github.com/kbukum/brokerpool/redis/testutil"
)

type recordingSink struct {
	mu     sync.Mutex
	writes map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{writes: map[string]string{}}
}

func (s *recordingSink) Write(_ context.Context, key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[key] = string(value)
	return true
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *recordingSink) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out
}

func baseConfig(kcfg kafka.Config) harness.Config {
	cfg := harness.Config{Kafka: kcfg}
	cfg.Environment = "development"
	cfg.Logging.Level = "error"
	return cfg
}

func TestDefaultPayload(t *testing.T) {
	got := harness.DefaultPayload(3, time.Unix(1700000000, 0))
	assert.Equal(t, "Thread 3 - Message at 1700000000", string(got))
}

func TestNewRunnerValidatesRole(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", ""))

	_, err := harness.NewRunner(cfg, kafka.RoleConsumer, harness.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
	assert.Contains(t, err.Error(), "group_id")
}

func TestProducerRoleDropsGroupID(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", "billing"))

	_, err := harness.NewRunner(cfg, kafka.RoleProducer, harness.WithLogger(logger.Nop()))
	assert.NoError(t, err, "one config file drives both commands")
}

func TestRedisSinkRequiresRedis(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", "billing"))
	cfg.Consumer.Sink = harness.SinkRedis

	_, err := harness.NewRunner(cfg, kafka.RoleConsumer, harness.WithLogger(logger.Nop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer.sink")
}

func TestProduceRunnerSendsFromEveryWorker(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))

	r, err := harness.NewRunner(cfg, kafka.RoleProducer,
		harness.WithLogger(logger.Nop()),
		harness.WithSizer(hardware.Fixed(3)),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 3, r.Pool().Size())
	assert.Equal(t, component.StatusHealthy, r.Health(context.Background()).Status)

	testutil.Eventually(t, 2*time.Second, func() bool {
		seen := map[string]bool{}
		for _, m := range b.Messages("orders") {
			seen[strings.SplitN(string(m.Payload), " - ", 2)[0]] = true
		}
		return len(seen) == 3
	}, "every worker produced")

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 0, r.Pool().Size())
	assert.Equal(t, component.StatusUnhealthy, r.Health(context.Background()).Status)

	for _, m := range b.Messages("orders") {
		assert.Regexp(t, `^Thread [0-2] - Message at \d+$`, string(m.Payload))
	}
}

func TestProduceRunnerFixedMessageAndRateLimit(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 1
	cfg.Producer.Message = "ping"
	cfg.Producer.RateLimit.Rate = 20
	cfg.Producer.RateLimit.Burst = 1

	r, err := harness.NewRunner(cfg, kafka.RoleProducer, harness.WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, r.Stop(context.Background()))

	msgs := b.Messages("orders")
	require.NotEmpty(t, msgs)
	assert.LessOrEqual(t, len(msgs), 8, "rate limit of 20/s over 200ms")
	for _, m := range msgs {
		assert.Equal(t, "ping", string(m.Payload))
	}
}

// countingDriver counts sends the local queue rejected.
type countingDriver struct {
	memory.Driver
	full atomic.Int64
}

func (d *countingDriver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	c, err := d.Driver.NewProducer(cfg, clientID)
	if err != nil {
		return nil, err
	}
	return &countingProducer{ProducerClient: c, full: &d.full}, nil
}

type countingProducer struct {
	kafka.ProducerClient
	full *atomic.Int64
}

func (p *countingProducer) Produce(topic string, payload []byte) error {
	err := p.ProducerClient.Produce(topic, payload)
	if stderrors.Is(err, kafka.ErrQueueFull) {
		p.full.Add(1)
	}
	return err
}

func TestProduceRunnerBacksOffWhenQueueFull(t *testing.T) {
	b := testutil.NewBroker(t)
	b.Stall()
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 1
	cfg.Kafka.QueueSize = 10
	cfg.Kafka.FlushTimeout = 50 * time.Millisecond
	drv := &countingDriver{}

	r, err := harness.NewRunner(cfg, kafka.RoleProducer,
		harness.WithLogger(logger.Nop()),
		harness.WithDriver(drv),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(300 * time.Millisecond)
	_ = r.Stop(context.Background())

	// 300ms of a full queue with a 100ms poll between attempts.
	assert.Positive(t, drv.full.Load())
	assert.LessOrEqual(t, drv.full.Load(), int64(5))
}

func TestStopClosesStalledProducersTogether(t *testing.T) {
	b := testutil.NewBroker(t)
	b.Stall()
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 8
	cfg.Kafka.QueueSize = 10
	cfg.Kafka.FlushTimeout = 300 * time.Millisecond

	r, err := harness.NewRunner(cfg, kafka.RoleProducer, harness.WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	err = r.Stop(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err, "undelivered messages are reported")
	assert.Less(t, elapsed, time.Second, "eight flushes of 300ms run in parallel")
	assert.False(t, r.Pool().Running())
}

func TestStopReturnsWhenContextExpires(t *testing.T) {
	b := testutil.NewBroker(t)
	b.Stall()
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 2
	cfg.Kafka.QueueSize = 10
	cfg.Kafka.FlushTimeout = time.Second

	r, err := harness.NewRunner(cfg, kafka.RoleProducer, harness.WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = r.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 600*time.Millisecond)

	testutil.Eventually(t, 3*time.Second, func() bool {
		return r.Pool().Capacity() == 0
	}, "pool finishes stopping")
}

// closingDriver hands out one producer whose client is already closed.
type closingDriver struct {
	memory.Driver
	made atomic.Int32
}

func (d *closingDriver) NewProducer(cfg kafka.Config, clientID string) (kafka.ProducerClient, error) {
	c, err := d.Driver.NewProducer(cfg, clientID)
	if err != nil {
		return nil, err
	}
	if d.made.Add(1) == 1 {
		return closedProducer{c}, nil
	}
	return c, nil
}

type closedProducer struct {
	kafka.ProducerClient
}

func (closedProducer) Produce(string, []byte) error { return kafka.ErrClientClosed }

func TestRunnerHealthDegradesWhenWorkerLeaves(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 2

	r, err := harness.NewRunner(cfg, kafka.RoleProducer,
		harness.WithLogger(logger.Nop()),
		harness.WithDriver(&closingDriver{}),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	testutil.Eventually(t, 2*time.Second, func() bool { return r.Pool().Size() == 1 }, "worker left")

	h := r.Health(context.Background())
	assert.Equal(t, component.StatusDegraded, h.Status)
	assert.Equal(t, "1/2 workers", h.Message)
	assert.Equal(t, 2, r.Pool().Capacity())
	require.NoError(t, r.Stop(context.Background()))
}

func TestConsumeRunnerWritesToSink(t *testing.T) {
	b := testutil.NewBroker(t, memory.WithPartitions(2))
	for i := 0; i < 6; i++ {
		_, _, err := b.Publish("orders", nil, []byte("m"))
		require.NoError(t, err)
	}

	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", "billing"))
	cfg.Pool.Workers = 2
	rec := newRecordingSink()

	r, err := harness.NewRunner(cfg, kafka.RoleConsumer,
		harness.WithLogger(logger.Nop()),
		harness.WithSink(rec),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	testutil.Eventually(t, 2*time.Second, func() bool { return rec.len() == 6 }, "all messages sunk")
	require.NoError(t, r.Stop(context.Background()))

	writes := rec.snapshot()
	for _, p := range []int{0, 1} {
		for o := 0; o < 3; o++ {
			key := "orders:" + string(rune('0'+p)) + ":" + string(rune('0'+o))
			assert.Equal(t, "m", writes[key], key)
		}
	}
}

func TestStartFailsWhenBrokerUnreachable(t *testing.T) {
	b := testutil.NewBroker(t)
	b.SetUnreachable(true)
	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", "billing"))
	cfg.Pool.Workers = 3

	r, err := harness.NewRunner(cfg, kafka.RoleConsumer, harness.WithLogger(logger.Nop()))
	require.NoError(t, err)

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))
	assert.False(t, r.Pool().Running())
	assert.Equal(t, 0, r.Pool().Size())
}

func TestAppConsumesIntoRedis(t *testing.T) {
	srv, rcfg := redistest.NewServer(t)
	b := testutil.NewBroker(t)
	for i := 0; i < 3; i++ {
		_, _, err := b.Publish("orders", []byte("k"), []byte("payload"))
		require.NoError(t, err)
	}

	cfg := baseConfig(testutil.ConsumerConfig(b, "orders", "billing"))
	cfg.Pool.Workers = 2
	cfg.Redis = rcfg
	cfg.Consumer.Breaker.MaxFailures = 3

	app, err := harness.NewApp(&cfg, kafka.RoleConsumer, "test", logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, app.Redis)
	assert.Equal(t, harness.SinkRedis, app.Config.Consumer.Sink)

	err = app.Run(context.Background(), func(ctx context.Context, _ *logger.Logger) {
		testutil.Eventually(t, 2*time.Second, func() bool { return len(srv.Keys()) == 3 }, "keys written")
	})
	require.NoError(t, err)

	for _, key := range srv.Keys() {
		assert.True(t, strings.HasPrefix(key, "orders:"), key)
		v, err := srv.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "payload", v)
	}
}

func TestAppProduceStopsOnWait(t *testing.T) {
	b := testutil.NewBroker(t)
	cfg := baseConfig(testutil.ProducerConfig(b, "orders"))
	cfg.Pool.Workers = 2

	app, err := harness.NewApp(&cfg, kafka.RoleProducer, "test", logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, app.Redis)

	err = app.Run(context.Background(), func(ctx context.Context, _ *logger.Logger) {
		testutil.WaitForMessages(t, b, "orders", 10, 2*time.Second)
	})
	require.NoError(t, err)
	assert.False(t, app.Runner.Pool().Running())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: pipeline
environment: staging
kafka:
  driver: memory
  brokers: ["mem-1:9092"]
  topic: orders
  group_id: billing
  ack_mode: wait_local_ack
pool:
  workers: 4
  max_workers: 8
producer:
  rate_limit:
    rate: 50
redis:
  enabled: true
  addr: localhost:6379
  ttl: 1h
`), 0o644))
	t.Setenv("BROKERPOOL_KAFKA_TOPIC", "payments")

	cfg, err := harness.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pipeline", cfg.Name)
	assert.Equal(t, "payments", cfg.Kafka.Topic)
	assert.Equal(t, "billing", cfg.Kafka.GroupID)
	assert.Equal(t, kafka.AckWaitLocal, cfg.Kafka.AckMode)
	assert.Equal(t, 4, cfg.Pool.Workers)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 50.0, cfg.Producer.RateLimit.Rate)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, harness.SinkRedis, cfg.Consumer.Sink)
	assert.NoError(t, cfg.Validate(kafka.RoleConsumer))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := harness.Load("")
	require.NoError(t, err)
	assert.Equal(t, kafka.DefaultDriver, cfg.Kafka.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, kafka.OffsetEarliest, cfg.Kafka.OffsetReset)
	assert.Equal(t, kafka.AckFireAndForget, cfg.Kafka.AckMode)
	assert.Equal(t, harness.SinkLog, cfg.Consumer.Sink)
}
