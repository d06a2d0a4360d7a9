package sched

import (
	"context"
	"sync"
)

// Future is a completion handle for a submitted work item. It carries a
// done channel and a completion callback list invoked by the executing
// worker when the item retires, which is how continuation chains are built
// without any stack switching.
type Future struct {
	item *WorkItem
	done chan struct{}

	mu        sync.Mutex
	retired   bool
	callbacks []func(*WorkItem)
}

// newFuture wires a future to an item. Must happen before the item is
// submitted; the retire hook slice is not safe to mutate afterwards.
func newFuture(item *WorkItem) *Future {
	f := &Future{
		item: item,
		done: make(chan struct{}),
	}
	item.onRetire = append(item.onRetire, f.retire)
	return f
}

// SubmitFuture wraps fn in a work item, submits it, and returns a future
// for it. A submit failure (ErrQueueFull, ErrShutdown) is returned to the
// caller and no future is created.
func SubmitFuture(ctx context.Context, p ExecutionPolicy, name string, fn ItemFunc) (*Future, error) {
	item := NewWorkItem(name, fn)
	f := newFuture(item)
	if err := p.Submit(ctx, item); err != nil {
		return nil, err
	}
	return f, nil
}

// Done returns a channel closed when the item retires.
func (f *Future) Done() <-chan struct{} { return f.done }

// Item returns the underlying work item.
func (f *Future) Item() *WorkItem { return f.item }

// Wait blocks until the item retires and returns its failure, if any.
func (f *Future) Wait() error {
	<-f.done
	return f.item.Err()
}

// OnComplete registers fn to run when the item retires. If the item has
// already retired, fn runs immediately on the calling goroutine; otherwise
// it runs on the worker that retires the item.
func (f *Future) OnComplete(fn func(*WorkItem)) {
	f.mu.Lock()
	if f.retired {
		f.mu.Unlock()
		fn(f.item)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Then submits a continuation when this future completes, regardless of
// whether it completed or failed, and returns the continuation's future.
// If the continuation cannot be submitted at completion time, its item is
// retired as Failed with the submit error.
func (f *Future) Then(ctx context.Context, p ExecutionPolicy, name string, fn ItemFunc) *Future {
	next := NewWorkItem(name, fn)
	nf := newFuture(next)
	f.OnComplete(func(*WorkItem) {
		if err := p.Submit(ctx, next); err != nil {
			next.fail(err)
		}
	})
	return nf
}

func (f *Future) retire(item *WorkItem) {
	f.mu.Lock()
	f.retired = true
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	close(f.done)
	for _, fn := range callbacks {
		fn(item)
	}
}
