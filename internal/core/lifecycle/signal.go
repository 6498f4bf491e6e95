package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Signal Fabric
// =============================================================================

// Payload is what a finished service sends each dependent.
type Payload []string

// Fabric holds one broadcast signal per graph node. A service that finishes
// publishes into each dependent's signal; every instance of the dependent
// holds its own receiver and waits for one token per incoming edge.
type Fabric struct {
	capacity int

	mu      sync.Mutex
	signals map[string][]*Receiver
}

// NewFabric creates signals for nodes. capacity is the buffer of every
// receiver and must be at least the largest in-degree; values below 1 are
// raised to 1.
func NewFabric(nodes []string, capacity int) *Fabric {
	if capacity < 1 {
		capacity = 1
	}
	f := &Fabric{
		capacity: capacity,
		signals:  make(map[string][]*Receiver, len(nodes)),
	}
	for _, n := range nodes {
		f.signals[n] = nil
	}
	return f
}

// Capacity returns the per-receiver buffer size.
func (f *Fabric) Capacity() int {
	return f.capacity
}

// Subscribe attaches a new receiver to node's signal.
func (f *Fabric) Subscribe(node string) (*Receiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.signals[node]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	r := &Receiver{node: node, ch: make(chan Payload, f.capacity)}
	f.signals[node] = append(subs, r)
	return r, nil
}

// Publish delivers payload to every live receiver of node without blocking.
// It fails when no receiver is live, since the dependent would otherwise
// wait forever, and when a receiver's buffer is full.
func (f *Fabric) Publish(node string, payload Payload) error {
	f.mu.Lock()
	subs, ok := f.signals[node]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}

	delivered := 0
	for _, r := range subs {
		if r.closed.Load() {
			continue
		}
		select {
		case r.ch <- payload:
			delivered++
		default:
			return fmt.Errorf("%w: %s", ErrSignalOverflow, node)
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s", ErrNoReceiver, node)
	}
	return nil
}

// Receiver is one subscription to a node's signal.
type Receiver struct {
	node   string
	ch     chan Payload
	closed atomic.Bool
}

// Receive blocks for the next payload or until ctx is done.
func (r *Receiver) Receive(ctx context.Context) (Payload, error) {
	select {
	case p := <-r.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Collect receives n payloads, one per incoming edge, and concatenates them.
func (r *Receiver) Collect(ctx context.Context, n int) ([]string, error) {
	var all []string
	for i := 0; i < n; i++ {
		p, err := r.Receive(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, p...)
	}
	return all, nil
}

// Close marks the receiver dead; later publishes skip it.
func (r *Receiver) Close() {
	r.closed.Store(true)
}
