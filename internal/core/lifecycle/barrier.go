package lifecycle

import (
	"context"
	"sync"
)

// Barrier is a one-shot rendezvous: Wait returns once n callers have arrived.
type Barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	done    chan struct{}
}

// NewBarrier returns a barrier for n participants. n <= 0 is already open.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

// Wait registers one arrival and blocks until every participant has arrived
// or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.done)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Arrived returns the number of arrivals so far.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}
