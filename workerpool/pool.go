// Package workerpool runs a fixed set of workers, each looping over one
// task until the pool is stopped.
//
// The pool holds zero workers while stopped and exactly the resolved count
// while running. Stop lets every worker finish its current iteration,
// joins them, then closes their resources concurrently, so shutdown takes
// about as long as the slowest Close.
//
// Size, Capacity and Running never block and may be called from tasks.
// Start and Stop must not be: Stop joins the calling worker.
package workerpool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/kbukum/brokerpool/errors"
	"github.com/kbukum/brokerpool/hardware"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
)

const component = "workerpool"

// TaskFunc is one iteration of a worker's loop.
type TaskFunc func(ctx context.Context, worker int) error

// Worker owns the resources of one pool slot.
type Worker interface {
	// Run executes one iteration. An error with code SESSION_CLOSED ends
	// the worker's loop; any other error is logged and the loop continues.
	Run(ctx context.Context, worker int) error
	// Close releases the worker's resources once its loop has exited.
	Close() error
}

// WorkerFactory builds the worker for slot index.
type WorkerFactory func(index int) (Worker, error)

type taskWorker TaskFunc

func (t taskWorker) Run(ctx context.Context, worker int) error { return t(ctx, worker) }
func (taskWorker) Close() error                                { return nil }

// Option configures a Pool.
type Option func(*Pool)

// WithSizer sets the hardware sizer used when no count is configured.
func WithSizer(s hardware.Sizer) Option {
	return func(p *Pool) { p.sizer = s }
}

// WithLogger sets the pool logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithMetrics records worker metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithName labels the pool in logs and metrics.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// WithContext sets the context passed to every iteration. Stop does not
// cancel it.
func WithContext(ctx context.Context) Option {
	return func(p *Pool) { p.ctx = ctx }
}

// Pool runs workers until stopped.
type Pool struct {
	cfg     Config
	name    string
	sizer   hardware.Sizer
	log     *logger.Logger
	metrics *observability.Metrics
	ctx     context.Context

	running  atomic.Bool
	active   atomic.Int32
	capacity atomic.Int32

	// lifecycle serializes Start and Stop and guards workers.
	lifecycle sync.Mutex
	workers   []Worker
	wg        sync.WaitGroup
}

// New creates a stopped pool.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:   cfg,
		name:  "default",
		sizer: hardware.Default,
		ctx:   context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.GetGlobalLogger()
	}
	p.log = p.log.WithComponent(component).WithFields(logger.Fields("pool", p.name))
	return p
}

// Start launches one worker per resolved slot running task.
func (p *Pool) Start(task TaskFunc) error {
	return p.StartN(task, 0)
}

// StartN launches count workers running task. A count <= 0 resolves from
// the config, then the sizer.
func (p *Pool) StartN(task TaskFunc, count int) error {
	if task == nil {
		return errors.Internal(fmt.Errorf("workerpool: nil task"))
	}
	return p.StartWorkers(func(int) (Worker, error) { return taskWorker(task), nil }, count)
}

// StartWorkers builds count workers from factory and launches them. If any
// worker fails to build, the ones already built are closed and nothing runs.
func (p *Pool) StartWorkers(factory WorkerFactory, count int) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running.Load() {
		return errors.AlreadyRunning(p.Size())
	}

	n, err := p.resolve(count)
	if err != nil {
		p.log.Error("Cannot start worker pool", logger.ErrorFields("start", err))
		return err
	}

	workers := make([]Worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := factory(i)
		if err != nil {
			p.log.Error("Worker construction failed, aborting start", logger.MergeWithError(
				logger.Fields(logger.FieldWorker, i, logger.FieldOperation, "start"), err))
			if cerr := closeAll(workers); cerr != nil {
				p.log.Warn("Closing built workers failed", logger.ErrorFields("start", cerr))
			}
			return err
		}
		workers = append(workers, w)
	}

	p.workers = workers
	p.capacity.Store(int32(n))
	p.active.Store(int32(n))
	p.running.Store(true)
	for i, w := range workers {
		p.wg.Add(1)
		go p.loop(i, w)
	}

	p.log.Info("Worker pool started", logger.Fields(logger.FieldCount, n))
	return nil
}

// resolve picks the worker count: explicit, configured, then hardware.
func (p *Pool) resolve(count int) (int, error) {
	n := count
	if n <= 0 {
		n = p.cfg.Workers
	}
	if n <= 0 && p.sizer != nil {
		n = p.sizer.Cores()
	}
	if n <= 0 {
		return 0, errors.NoWorkers()
	}
	if p.cfg.MaxWorkers > 0 && n > p.cfg.MaxWorkers {
		p.log.Debug("Capping worker count", logger.Fields("requested", n, "max_workers", p.cfg.MaxWorkers))
		n = p.cfg.MaxWorkers
	}
	return n, nil
}

func (p *Pool) loop(index int, w Worker) {
	defer p.wg.Done()
	defer p.active.Dec()
	ctx := p.ctx
	p.metrics.WorkerStarted(ctx, p.name)
	defer p.metrics.WorkerStopped(ctx, p.name)

	log := p.log.WithFields(logger.Fields(logger.FieldWorker, index))
	log.Debug("Worker started")

	for p.running.Load() {
		err := p.iterate(ctx, index, w)
		p.metrics.RecordIteration(ctx, p.name)
		if err == nil {
			continue
		}
		if errors.HasCode(err, errors.ErrCodeSessionClosed) {
			log.Warn("Worker session closed, leaving loop", logger.MergeWithError(logger.Fields(
				"active", p.active.Load()-1,
				"capacity", p.capacity.Load(),
			), err))
			return
		}
		log.Error("Worker iteration failed", logger.ErrorFields("run", err))
		if app, ok := errors.AsAppError(err); ok {
			p.metrics.RecordError(ctx, string(app.Code), component)
		}
	}
	log.Debug("Worker stopped")
}

// iterate runs one iteration and converts a panic into an error.
func (p *Pool) iterate(ctx context.Context, index int, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanic(ctx, p.name)
			err = errors.Internal(fmt.Errorf("worker %d panicked: %v", index, r))
		}
	}()
	return w.Run(ctx, index)
}

// Stop lets every worker finish its current iteration, joins them and
// closes their resources in parallel. It is a no-op on a stopped pool.
func (p *Pool) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	p.wg.Wait()

	err := closeAll(p.workers)
	n := len(p.workers)
	p.workers = nil
	p.capacity.Store(0)
	if err != nil {
		p.log.Warn("Some workers failed to close", logger.ErrorFields("stop", err))
	}
	p.log.Info("Worker pool stopped", logger.Fields(logger.FieldCount, n))
	return err
}

// Close stops the pool.
func (p *Pool) Close() error {
	return p.Stop()
}

// Running reports whether the pool has been started and not stopped.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Size returns the number of workers still looping. It drops below
// Capacity when a worker leaves on SESSION_CLOSED and is zero while stopped.
func (p *Pool) Size() int {
	return int(p.active.Load())
}

// Capacity returns the number of workers the pool was started with, zero
// while stopped.
func (p *Pool) Capacity() int {
	return int(p.capacity.Load())
}

// closeAll closes every worker concurrently and joins the failures.
func closeAll(workers []Worker) error {
	errs := make([]error, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Close(); err != nil {
				errs[i] = fmt.Errorf("worker %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	return stderrors.Join(errs...)
}
