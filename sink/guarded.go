package sink

import (
	"context"

	"github.com/kbukum/brokerpool/resilience"
)

// Guarded is a Writer that stops calling its target while the circuit is
// open. Rejected writes fail with resilience.ErrCircuitOpen.
type Guarded struct {
	next    Writer
	breaker *resilience.CircuitBreaker
}

// Guard wraps next with breaker.
func Guard(next Writer, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

// Write calls the target through the breaker.
func (g *Guarded) Write(ctx context.Context, key string, value []byte) error {
	return g.breaker.Execute(func() error {
		return g.next.Write(ctx, key, value)
	})
}

// Breaker returns the circuit breaker.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }
