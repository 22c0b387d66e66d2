package component

import (
	"context"
	"fmt"
	"sync"
)

// Lazy runs an initializer at most once until it succeeds, and tracks
// whether the resource it built is usable.
type Lazy struct {
	name        string
	mu          sync.RWMutex
	initialized bool
	lastError   error
	initializer func(ctx context.Context) error
	healthCheck func(ctx context.Context) error
	closer      func() error
}

// NewLazy creates a Lazy with the given initializer.
func NewLazy(name string, initializer func(context.Context) error) *Lazy {
	return &Lazy{
		name:        name,
		initializer: initializer,
	}
}

// Name returns the resource name.
func (b *Lazy) Name() string {
	return b.name
}

// Initialize runs the initializer unless a previous call succeeded. A
// failed initializer is retried on the next call.
func (b *Lazy) Initialize(ctx context.Context) error {
	b.mu.RLock()
	if b.initialized {
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}
	if b.initializer == nil {
		return fmt.Errorf("no initializer for %s", b.name)
	}
	if err := b.initializer(ctx); err != nil {
		b.lastError = err
		return fmt.Errorf("failed to initialize %s: %w", b.name, err)
	}

	b.initialized = true
	b.lastError = nil
	return nil
}

// IsInitialized reports whether Initialize has succeeded since the last Close.
func (b *Lazy) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// LastError returns the error from the most recent failed Initialize.
func (b *Lazy) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// HealthCheck fails if the resource is not initialized, then runs the
// custom check if one is set.
func (b *Lazy) HealthCheck(ctx context.Context) error {
	if !b.IsInitialized() {
		return fmt.Errorf("%s not initialized", b.name)
	}
	if b.healthCheck != nil {
		return b.healthCheck(ctx)
	}
	return nil
}

// Close runs the closer if initialized and marks the resource uninitialized.
func (b *Lazy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	b.initialized = false
	if b.closer != nil {
		return b.closer()
	}
	return nil
}

// WithHealthCheck sets a custom health check function.
func (b *Lazy) WithHealthCheck(fn func(context.Context) error) *Lazy {
	b.healthCheck = fn
	return b
}

// WithCloser sets a custom close function.
func (b *Lazy) WithCloser(fn func() error) *Lazy {
	b.closer = fn
	return b
}
