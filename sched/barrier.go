package sched

import "sync"

// FrameBarrier is a single-shot gate, reusable across frames via Reset.
// Signal opens the gate for every current and future waiter; Reset arms it
// again for the next frame.
type FrameBarrier struct {
	mu       sync.Mutex
	signaled bool
	gate     chan struct{}
}

// NewFrameBarrier creates an armed (unsignaled) barrier.
func NewFrameBarrier() *FrameBarrier {
	return &FrameBarrier{gate: make(chan struct{})}
}

// Reset re-arms the barrier. Waiters arriving after Reset block until the
// next Signal.
func (b *FrameBarrier) Reset() {
	b.mu.Lock()
	if b.signaled {
		b.signaled = false
		b.gate = make(chan struct{})
	}
	b.mu.Unlock()
}

// Signal opens the gate. Idempotent until the next Reset.
func (b *FrameBarrier) Signal() {
	b.mu.Lock()
	if !b.signaled {
		b.signaled = true
		close(b.gate)
	}
	b.mu.Unlock()
}

// Wait blocks until the barrier is signaled. This is a pure block, not a
// helping wait: by the time the barrier is reached all batch work has
// already drained.
func (b *FrameBarrier) Wait() {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	<-gate
}

// Signaled reports whether the barrier is currently open.
func (b *FrameBarrier) Signaled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signaled
}
