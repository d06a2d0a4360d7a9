package sched

import (
	"context"
	"sync"
	"time"

	"github.com/ByteMirror/lockstep/log"
)

// InlinePolicy executes work items synchronously on the goroutine that calls
// WaitForDrain, in submission order. It is the degenerate zero-worker policy
// for hosts where no worker threads are available, and is behaviorally
// substitutable for WorkerPool at the same call sites.
type InlinePolicy struct {
	mu       sync.Mutex
	pending  []*WorkItem
	shutdown bool
	metrics  *Metrics
}

// NewInlinePolicy creates an inline execution policy.
func NewInlinePolicy() *InlinePolicy {
	return &InlinePolicy{metrics: &Metrics{}}
}

// Submit appends the item to the ordered pending list.
func (p *InlinePolicy) Submit(ctx context.Context, item *WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrShutdown
	}
	p.pending = append(p.pending, item)
	p.metrics.ItemsSubmitted.Add(1)
	return nil
}

// WaitForDrain runs every pending item on the calling goroutine in
// submission order, including items submitted by the items themselves,
// then clears the list.
func (p *InlinePolicy) WaitForDrain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}
		item := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		p.runItem(item)
	}
}

func (p *InlinePolicy) runItem(item *WorkItem) {
	start := time.Now()
	item.run(context.Background())
	p.metrics.recordLatency(time.Since(start))
	if item.State() == ItemFailed {
		p.metrics.ItemsFailed.Add(1)
	} else {
		p.metrics.ItemsCompleted.Add(1)
	}
}

// Shutdown drops all still-pending items without executing them. They stay
// in the Pending state, which callers must treat as expected at shutdown.
func (p *InlinePolicy) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	if n := len(p.pending); n > 0 {
		p.metrics.ItemsDropped.Add(uint64(n))
		log.WarningLog.Printf("inline policy shut down with %d pending items dropped", n)
	}
	p.pending = nil
}

// Metrics returns the policy's execution metrics.
func (p *InlinePolicy) Metrics() *Metrics { return p.metrics }
