package sandbox

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of runs admitted at once when no capacity is configured.
const DefaultConcurrency = 3

// Gate bounds how many sandbox runs execute at the same time, independent of
// the backend. Waiters are admitted in FIFO order.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewGate creates a gate admitting up to capacity concurrent holders.
// Non-positive capacities fall back to DefaultConcurrency.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done.
// Every successful Acquire must be paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire sandbox slot: %w", err)
	}
	g.inFlight.Add(1)
	return nil
}

// Release returns a slot to the gate.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Capacity returns the configured maximum of concurrent holders.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InFlight returns the number of currently admitted holders.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}
