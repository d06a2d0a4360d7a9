package sched

import "time"

// Phase tags where in the frame a system runs. All batches of an earlier
// phase complete before any batch of a later phase starts.
type Phase int

const (
	// PhaseUpdate is the main simulation phase.
	PhaseUpdate Phase = iota
	// PhasePostUpdate runs after every update system has retired.
	PhasePostUpdate
)

func (p Phase) String() string {
	switch p {
	case PhaseUpdate:
		return "Update"
	case PhasePostUpdate:
		return "PostUpdate"
	default:
		return "Unknown"
	}
}

// Requirement declares what a system touches. The planner derives ordering
// and batching from the read/write sets; two systems whose sets overlap in
// a write never share a batch.
type Requirement struct {
	// Reads lists resource types the system reads.
	Reads []string
	// Writes lists resource types the system writes.
	Writes []string
	// Phase selects the execution phase.
	Phase Phase
	// Exclusive restricts the system to the coordinator's exclusive phase,
	// run sequentially on the goroutine holding the exclusive token.
	Exclusive bool
	// After names systems that must retire before this one runs, overriding
	// the registration-order direction of a conflict edge.
	After []string
}

// System is one schedulable unit of per-frame work.
type System interface {
	// Invoke runs the system against the frame's shared state.
	Invoke(state interface{}, delta time.Duration) error
	// Requirements returns the system's declared resource sets.
	Requirements() Requirement
}

// SystemFunc adapts a function plus a requirement into a System.
type SystemFunc struct {
	Req Requirement
	Fn  func(state interface{}, delta time.Duration) error
}

func (s SystemFunc) Invoke(state interface{}, delta time.Duration) error {
	return s.Fn(state, delta)
}

func (s SystemFunc) Requirements() Requirement {
	return s.Req
}
