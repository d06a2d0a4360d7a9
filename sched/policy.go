package sched

import (
	"context"
)

// ExecutionPolicy abstracts how submitted work items get executed. The
// threaded WorkerPool and the synchronous InlinePolicy implement the same
// contract, so callers (the FrameCoordinator in particular) are written
// against this interface and the policy is chosen at runtime.
type ExecutionPolicy interface {
	// Submit hands an item to the policy for execution. A capacity failure
	// is returned as ErrQueueFull and the item is not enqueued; after
	// Shutdown, Submit returns ErrShutdown.
	Submit(ctx context.Context, item *WorkItem) error

	// WaitForDrain blocks until every submitted item has retired
	// (Completed or Failed). The caller participates in executing pending
	// work rather than idling, so the wait cannot starve. Item failures
	// are not reported here; inspect item state after draining.
	WaitForDrain()

	// Shutdown stops the policy. Items already executing finish; items
	// still queued are dropped in the Pending state. Submit fails from
	// then on.
	Shutdown()
}

// SubmitFunc wraps fn in a fresh work item and submits it.
func SubmitFunc(ctx context.Context, p ExecutionPolicy, name string, fn ItemFunc) (*WorkItem, error) {
	item := NewWorkItem(name, fn)
	if err := p.Submit(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
