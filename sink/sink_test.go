package sink_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/redis"
	"github.com/kbukum/brokerpool/redis/testutil"
	"github.com/kbukum/brokerpool/resilience"
	"github.com/kbukum/brokerpool/sink"
)

func TestStoreWritesToRedis(t *testing.T) {
	srv, cfg := testutil.NewServer(t)
	client, err := redis.New(cfg, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	s := sink.New("redis", client, sink.WithLogger(logger.Nop()))
	assert.Equal(t, "redis", s.Name())
	assert.True(t, s.Write(context.Background(), "orders:1:5", []byte("hello")))

	got, err := srv.Get("orders:1:5")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestStoreReportsFailure(t *testing.T) {
	srv, cfg := testutil.NewServer(t)
	cfg.MaxRetries = -1
	client, err := redis.New(cfg, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	s := sink.New("redis", client, sink.WithLogger(logger.Nop()))
	srv.SetError("READONLY You can't write against a read only replica.")

	assert.False(t, s.Write(context.Background(), "orders:0:0", []byte("x")))

	srv.SetError("")
	assert.True(t, s.Write(context.Background(), "orders:0:1", []byte("x")))
}

func TestBreakerStopsCallingFailingWriter(t *testing.T) {
	calls := 0
	w := sink.WriterFunc(func(ctx context.Context, key string, value []byte) error {
		calls++
		return fmt.Errorf("connection refused")
	})

	s := sink.New("flaky", w, sink.WithLogger(logger.Nop()), sink.WithBreaker(resilience.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Hour,
	}))

	for i := 0; i < 5; i++ {
		assert.False(t, s.Write(context.Background(), "k", []byte("v")))
	}
	assert.Equal(t, 2, calls, "open circuit rejects without calling the writer")
}

func TestGuardRecovers(t *testing.T) {
	fail := true
	w := sink.WriterFunc(func(ctx context.Context, key string, value []byte) error {
		if fail {
			return fmt.Errorf("down")
		}
		return nil
	})
	g := sink.Guard(w, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "redis",
		MaxFailures: 1,
		Timeout:     20 * time.Millisecond,
	}))

	require.Error(t, g.Write(context.Background(), "k", nil))
	assert.ErrorIs(t, g.Write(context.Background(), "k", nil), resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.StateOpen, g.Breaker().State())

	fail = false
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, g.Write(context.Background(), "k", nil))
	assert.Equal(t, resilience.StateClosed, g.Breaker().State())
}

func TestNopAndLogSinks(t *testing.T) {
	ctx := context.Background()
	assert.True(t, sink.Nop{}.Write(ctx, "k", []byte("v")))
	assert.True(t, sink.Log{Logger: logger.Nop()}.Write(ctx, "k", []byte("v")))
}
