package sched

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQueueFull is returned by Submit when the target queue has no free
	// slot. The item was not enqueued and the caller decides whether to
	// retry, back off, or run the item itself.
	ErrQueueFull = errors.New("work queue is full")

	// ErrShutdown is returned by Submit after Shutdown has been called.
	ErrShutdown = errors.New("execution policy is shut down")

	// ErrNotRegistered is returned when a system name is referenced but no
	// system with that name has been registered.
	ErrNotRegistered = errors.New("system is not registered")
)

// CycleError is returned by Plan when the registered systems cannot be
// ordered: some systems remain unplaced but none of them has all of its
// predecessors placed. No batches are produced and execution must not
// proceed with the stale plan.
type CycleError struct {
	// Stuck lists the names of the systems that could not be placed, in
	// registration order.
	Stuck []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among systems: %s", strings.Join(e.Stuck, ", "))
}

// PhaseError is returned by a FrameCoordinator phase call made out of order.
type PhaseError struct {
	Op   string
	Have FramePhase
	Want FramePhase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s called in phase %s, want %s", e.Op, e.Have, e.Want)
}
