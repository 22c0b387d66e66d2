package component

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/logger"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

type describedComponent struct {
	mockComponent
}

func (d *describedComponent) Describe() Description {
	return Description{Type: "kafka", Details: "localhost:9092 topic=orders"}
}

func newRegistry() *Registry {
	return NewRegistry(logger.Nop())
}

func TestRegisterDuplicate(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{name: "redis"}))
	assert.Error(t, r.Register(&mockComponent{name: "redis"}))
}

func TestGet(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{name: "redis"}))

	got := r.Get("redis")
	require.NotNil(t, got)
	assert.Equal(t, "redis", got.Name())
	assert.Nil(t, r.Get("missing"))
}

func TestStartAllInOrder(t *testing.T) {
	r := newRegistry()
	var order []string

	require.NoError(t, r.Register(&mockComponent{name: "redis", startOrder: &order}))
	require.NoError(t, r.Register(&describedComponent{mockComponent{name: "runner", startOrder: &order}}))

	require.NoError(t, r.StartAll(context.Background()))
	assert.Equal(t, []string{"redis", "runner"}, order)
	assert.Len(t, r.All(), 2)
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	r := newRegistry()
	var stops []string

	require.NoError(t, r.Register(&mockComponent{name: "redis", stopOrder: &stops}))
	require.NoError(t, r.Register(&mockComponent{name: "metrics", stopOrder: &stops}))
	require.NoError(t, r.Register(&mockComponent{name: "runner", startErr: fmt.Errorf("connection refused"), stopOrder: &stops}))

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner")
	assert.Equal(t, []string{"metrics", "redis"}, stops)

	stops = nil
	require.NoError(t, r.StopAll(context.Background()))
	assert.Empty(t, stops, "rolled back components are not stopped twice")
}

func TestStopAllReverseOrder(t *testing.T) {
	r := newRegistry()
	var order []string

	for _, name := range []string{"redis", "metrics", "runner"} {
		require.NoError(t, r.Register(&mockComponent{name: name, stopOrder: &order}))
	}
	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(context.Background()))
	assert.Equal(t, []string{"runner", "metrics", "redis"}, order)
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := newRegistry()
	var order []string
	require.NoError(t, r.Register(&mockComponent{name: "redis", stopOrder: &order}))

	require.NoError(t, r.StopAll(context.Background()))
	assert.Empty(t, order)
}

func TestStopAllWithErrors(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{name: "redis", stopErr: fmt.Errorf("stop failed")}))
	require.NoError(t, r.Register(&mockComponent{name: "runner"}))
	require.NoError(t, r.StartAll(context.Background()))

	err := r.StopAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestHealthAll(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{
		name:   "redis",
		health: Health{Name: "redis", Status: StatusHealthy},
	}))
	require.NoError(t, r.Register(&mockComponent{
		name:   "runner",
		health: Health{Name: "runner", Status: StatusDegraded, Message: "2/4 workers"},
	}))

	results := r.HealthAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results[0].Status)
	assert.Equal(t, StatusDegraded, results[1].Status)
}

func TestLazyInitializesOnce(t *testing.T) {
	count := 0
	lc := NewLazy("redis", func(ctx context.Context) error {
		count++
		return nil
	})

	assert.Equal(t, "redis", lc.Name())
	assert.False(t, lc.IsInitialized())

	require.NoError(t, lc.Initialize(context.Background()))
	require.NoError(t, lc.Initialize(context.Background()))
	assert.Equal(t, 1, count)
	assert.True(t, lc.IsInitialized())
}

func TestLazyRetriesFailedInitialize(t *testing.T) {
	attempts := 0
	lc := NewLazy("redis", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("dial tcp: connection refused")
		}
		return nil
	})

	require.Error(t, lc.Initialize(context.Background()))
	assert.Error(t, lc.LastError())
	require.NoError(t, lc.Initialize(context.Background()))
	assert.NoError(t, lc.LastError())
	assert.Equal(t, 2, attempts)
}

func TestLazyHealthCheck(t *testing.T) {
	lc := NewLazy("redis", func(ctx context.Context) error { return nil })
	assert.Error(t, lc.HealthCheck(context.Background()), "uninitialized")

	require.NoError(t, lc.Initialize(context.Background()))
	assert.NoError(t, lc.HealthCheck(context.Background()))

	lc.WithHealthCheck(func(ctx context.Context) error { return fmt.Errorf("ping failed") })
	assert.Error(t, lc.HealthCheck(context.Background()))
}

func TestLazyClose(t *testing.T) {
	closed := 0
	lc := NewLazy("redis", func(ctx context.Context) error { return nil }).
		WithCloser(func() error {
			closed++
			return nil
		})

	require.NoError(t, lc.Close(), "close before init")
	assert.Zero(t, closed)

	require.NoError(t, lc.Initialize(context.Background()))
	require.NoError(t, lc.Close())
	require.NoError(t, lc.Close())
	assert.Equal(t, 1, closed)
	assert.False(t, lc.IsInitialized())
}

func TestHealthString(t *testing.T) {
	h := Health{Name: "runner-consumer", Status: StatusDegraded, Message: "2/4 workers"}
	assert.False(t, h.Healthy())
	assert.Equal(t, "runner-consumer=degraded(2/4 workers)", h.String())

	h = Health{Name: "redis", Status: StatusHealthy}
	assert.True(t, h.Healthy())
	assert.Equal(t, "redis=healthy", h.String())
}
