package workerpool_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/hardware"
	"github.com/kbukum/brokerpool/kafka/testutil"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/workerpool"
)

func newPool(cfg workerpool.Config, sizer hardware.Sizer) *workerpool.Pool {
	return workerpool.New(cfg, workerpool.WithSizer(sizer), workerpool.WithLogger(logger.Nop()))
}

// tracker records which workers have run at least once.
type tracker struct {
	mu   sync.Mutex
	seen map[int]int
}

func newTracker() *tracker { return &tracker{seen: map[int]int{}} }

func (tr *tracker) task(ctx context.Context, worker int) error {
	tr.mu.Lock()
	tr.seen[worker]++
	tr.mu.Unlock()
	time.Sleep(time.Millisecond)
	return nil
}

func (tr *tracker) distinct() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.seen)
}

func TestStartNRunsExactCount(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))
	tr := newTracker()

	require.NoError(t, p.StartN(tr.task, 3))
	assert.True(t, p.Running())
	assert.Equal(t, 3, p.Size())

	testutil.Eventually(t, time.Second, func() bool { return tr.distinct() == 3 }, "all workers ran")

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	assert.Equal(t, 0, p.Size())
}

func TestStartUsesSizer(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(8))
	tr := newTracker()

	require.NoError(t, p.Start(tr.task))
	assert.Equal(t, 8, p.Size())
	testutil.Eventually(t, time.Second, func() bool { return tr.distinct() == 8 }, "eight workers ran")

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.Size())
}

func TestConfiguredWorkersBeatSizer(t *testing.T) {
	p := newPool(workerpool.Config{Workers: 2}, hardware.Fixed(8))
	require.NoError(t, p.Start(newTracker().task))
	defer p.Close()
	assert.Equal(t, 2, p.Size())
}

func TestMaxWorkersCaps(t *testing.T) {
	p := newPool(workerpool.Config{MaxWorkers: 4}, hardware.Fixed(16))
	require.NoError(t, p.Start(newTracker().task))
	defer p.Close()
	assert.Equal(t, 4, p.Size())
}

func TestZeroCoresPreventsStart(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(0))

	err := p.Start(newTracker().task)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoWorkers))
	assert.False(t, p.Running())
	assert.Equal(t, 0, p.Size())
}

func TestStartWhileRunning(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))
	require.NoError(t, p.StartN(newTracker().task, 2))
	defer p.Close()

	err := p.StartN(newTracker().task, 5)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyRunning))
	assert.Equal(t, 2, p.Size())
}

func TestStopIsIdempotent(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))

	assert.NoError(t, p.Stop(), "stop before start")

	require.NoError(t, p.StartN(newTracker().task, 2))
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
	assert.False(t, p.Running())
}

func TestRestartAfterStop(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))
	require.NoError(t, p.StartN(newTracker().task, 2))
	require.NoError(t, p.Stop())

	require.NoError(t, p.StartN(newTracker().task, 3))
	assert.Equal(t, 3, p.Size())
	require.NoError(t, p.Stop())
}

func TestStopFinishesCurrentIteration(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(1))

	var started, finished atomic.Int32
	entered := make(chan struct{}, 1)
	task := func(ctx context.Context, worker int) error {
		started.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		finished.Add(1)
		return nil
	}

	require.NoError(t, p.StartN(task, 1))
	<-entered
	require.NoError(t, p.Stop())
	assert.Equal(t, started.Load(), finished.Load())
}

type fakeWorker struct {
	runs   atomic.Int32
	closed atomic.Bool
	err    error
}

func (w *fakeWorker) Run(ctx context.Context, worker int) error {
	w.runs.Add(1)
	time.Sleep(time.Millisecond)
	return w.err
}

func (w *fakeWorker) Close() error {
	w.closed.Store(true)
	return nil
}

func TestStartWorkersAbortsOnConstructionFailure(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(4))

	var built []*fakeWorker
	factory := func(i int) (workerpool.Worker, error) {
		if i == 2 {
			return nil, errors.ConnectionFailed([]string{"localhost:1"}, fmt.Errorf("refused"))
		}
		w := &fakeWorker{}
		built = append(built, w)
		return w, nil
	}

	err := p.StartWorkers(factory, 4)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))
	assert.False(t, p.Running())
	assert.Equal(t, 0, p.Size())

	require.Len(t, built, 2)
	for _, w := range built {
		assert.True(t, w.closed.Load())
		assert.Zero(t, w.runs.Load(), "no worker should have run")
	}
}

func TestStopClosesWorkers(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(3))

	var built []*fakeWorker
	require.NoError(t, p.StartWorkers(func(int) (workerpool.Worker, error) {
		w := &fakeWorker{}
		built = append(built, w)
		return w, nil
	}, 0))
	assert.Equal(t, 3, p.Size())

	require.NoError(t, p.Stop())
	for _, w := range built {
		assert.True(t, w.closed.Load())
	}
}

func TestSessionClosedEndsWorkerLoop(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(1))

	w := &fakeWorker{err: errors.SessionClosed("receive")}
	require.NoError(t, p.StartWorkers(func(int) (workerpool.Worker, error) { return w, nil }, 1))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), w.runs.Load())
	require.NoError(t, p.Stop())
	assert.True(t, w.closed.Load())
}

func TestSizeDropsWhenWorkerLeaves(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(3))

	closing := &fakeWorker{err: errors.SessionClosed("send")}
	require.NoError(t, p.StartWorkers(func(i int) (workerpool.Worker, error) {
		if i == 1 {
			return closing, nil
		}
		return &fakeWorker{}, nil
	}, 3))

	testutil.Eventually(t, time.Second, func() bool { return p.Size() == 2 }, "closed worker no longer counted")
	assert.Equal(t, 3, p.Capacity())
	assert.True(t, p.Running())

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, 0, p.Capacity())
}

type slowCloser struct {
	fakeWorker
	delay time.Duration
}

func (w *slowCloser) Close() error {
	time.Sleep(w.delay)
	return w.fakeWorker.Close()
}

func TestStopClosesWorkersConcurrently(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(8))

	var built []*slowCloser
	require.NoError(t, p.StartWorkers(func(int) (workerpool.Worker, error) {
		w := &slowCloser{delay: 200 * time.Millisecond}
		built = append(built, w)
		return w, nil
	}, 0))

	start := time.Now()
	require.NoError(t, p.Stop())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 800*time.Millisecond, "eight 200ms closes should overlap")
	for _, w := range built {
		assert.True(t, w.closed.Load())
	}
}

func TestStopJoinsCloseErrors(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))
	require.NoError(t, p.StartWorkers(func(i int) (workerpool.Worker, error) {
		return &failingCloser{err: fmt.Errorf("flush %d", i)}, nil
	}, 2))

	err := p.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 0: flush 0")
	assert.Contains(t, err.Error(), "worker 1: flush 1")
}

type failingCloser struct {
	fakeWorker
	err error
}

func (w *failingCloser) Close() error { return w.err }

func TestTaskMayReadSizeDuringStop(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(2))

	var sizes atomic.Int32
	task := func(ctx context.Context, worker int) error {
		if p.Size() > 0 && p.Capacity() == 2 {
			sizes.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}
	require.NoError(t, p.StartN(task, 2))
	testutil.Eventually(t, time.Second, func() bool { return sizes.Load() > 0 }, "task read the pool size")

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked while a task was reading the pool size")
	}
}

func TestIterationErrorsDoNotStopWorker(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(1))

	w := &fakeWorker{err: errors.SendFailed("orders", fmt.Errorf("queue full"))}
	require.NoError(t, p.StartWorkers(func(int) (workerpool.Worker, error) { return w, nil }, 1))

	testutil.Eventually(t, time.Second, func() bool { return w.runs.Load() >= 3 }, "worker kept looping")
	require.NoError(t, p.Stop())
}

func TestPanicIsRecovered(t *testing.T) {
	p := newPool(workerpool.Config{}, hardware.Fixed(1))

	var calls atomic.Int32
	task := func(ctx context.Context, worker int) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		time.Sleep(time.Millisecond)
		return nil
	}

	require.NoError(t, p.StartN(task, 1))
	testutil.Eventually(t, time.Second, func() bool { return calls.Load() >= 3 }, "loop survived the panic")
	require.NoError(t, p.Stop())
}

func TestConfigValidate(t *testing.T) {
	cfg := workerpool.Config{Workers: 8, MaxWorkers: 4}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")

	cfg = workerpool.Config{Workers: -1}
	assert.Error(t, cfg.Validate())

	cfg = workerpool.Config{Workers: 4, MaxWorkers: 4}
	assert.NoError(t, cfg.Validate())
}
