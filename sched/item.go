package sched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ByteMirror/lockstep/log"
	"github.com/google/uuid"
)

// ItemState represents the lifecycle state of a work item.
type ItemState int32

const (
	// ItemPending indicates the item is queued and has not started.
	ItemPending ItemState = iota
	// ItemRunning indicates the item is executing on some worker.
	ItemRunning
	// ItemCompleted indicates the item finished without error.
	ItemCompleted
	// ItemFailed indicates the item's function returned an error or panicked.
	ItemFailed
)

func (s ItemState) String() string {
	switch s {
	case ItemPending:
		return "Pending"
	case ItemRunning:
		return "Running"
	case ItemCompleted:
		return "Completed"
	case ItemFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ItemFunc is the function signature executed by a work item.
type ItemFunc func(ctx context.Context) error

// WorkItem is one schedulable piece of work. A queue slot owns the item
// until a worker claims it; the claiming worker runs it exactly once and
// retires it. State and error are readable from any goroutine afterwards.
type WorkItem struct {
	id        string
	name      string
	fn        ItemFunc
	createdAt time.Time
	state     atomic.Int32
	err       atomic.Value // error, set at most once before the Failed store

	// onRetire callbacks are attached before submission and invoked by the
	// executing worker after the terminal state is published. Not safe to
	// append after Submit.
	onRetire []func(*WorkItem)
}

// NewWorkItem creates a pending work item with a fresh ID.
func NewWorkItem(name string, fn ItemFunc) *WorkItem {
	return &WorkItem{
		id:        uuid.New().String(),
		name:      name,
		fn:        fn,
		createdAt: time.Now(),
	}
}

// ID returns the item's unique identifier.
func (w *WorkItem) ID() string { return w.id }

// Name returns the item's display name.
func (w *WorkItem) Name() string { return w.name }

// CreatedAt returns when the item was created.
func (w *WorkItem) CreatedAt() time.Time { return w.createdAt }

// State returns the item's current lifecycle state.
func (w *WorkItem) State() ItemState {
	return ItemState(w.state.Load())
}

// Err returns the failure recorded for the item, or nil. Only meaningful
// once State reports Completed or Failed.
func (w *WorkItem) Err() error {
	if err, ok := w.err.Load().(error); ok {
		return err
	}
	return nil
}

// Retired reports whether the item reached a terminal state.
func (w *WorkItem) Retired() bool {
	s := w.State()
	return s == ItemCompleted || s == ItemFailed
}

// run executes the item on the calling goroutine. A panic or error return
// is caught here, recorded on the item, and logged; it never propagates to
// the worker loop or to WaitForDrain.
func (w *WorkItem) run(ctx context.Context) {
	w.state.Store(int32(ItemRunning))

	err := w.invoke(ctx)
	if err != nil {
		w.err.Store(err)
		w.state.Store(int32(ItemFailed))
		log.ErrorLog.Printf("work item %s (%s) failed: %v", w.name, w.id, err)
	} else {
		w.state.Store(int32(ItemCompleted))
	}

	for _, fn := range w.onRetire {
		fn(w)
	}
}

// fail retires the item as Failed without running it. Used when a
// continuation cannot be submitted.
func (w *WorkItem) fail(err error) {
	w.err.Store(err)
	w.state.Store(int32(ItemFailed))
	log.ErrorLog.Printf("work item %s (%s) failed: %v", w.name, w.id, err)
	for _, fn := range w.onRetire {
		fn(w)
	}
}

func (w *WorkItem) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work item panicked: %v", r)
		}
	}()
	return w.fn(ctx)
}
