package sched

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ByteMirror/lockstep/log"
)

// FramePhase is the coordinator's state-machine phase.
type FramePhase int

const (
	// FrameIdle means no frame is in progress.
	FrameIdle FramePhase = iota
	// FrameActive means BeginFrame ran and the barrier is armed.
	FrameActive
	// FrameBatchesExecuting means batches are being submitted and drained.
	FrameBatchesExecuting
	// FrameDrained means every batch retired and the barrier is signaled.
	FrameDrained
	// FrameExclusive means the exclusive-resource phase is running.
	FrameExclusive
	// FrameComplete means EndFrame ran; the next BeginFrame starts a new cycle.
	FrameComplete
)

func (p FramePhase) String() string {
	switch p {
	case FrameIdle:
		return "Idle"
	case FrameActive:
		return "FrameActive"
	case FrameBatchesExecuting:
		return "BatchesExecuting"
	case FrameDrained:
		return "Drained"
	case FrameExclusive:
		return "ExclusivePhase"
	case FrameComplete:
		return "FrameComplete"
	default:
		return "Unknown"
	}
}

// ExclusiveToken is the capability required to enter the exclusive phase.
// Exactly one token exists per coordinator, handed out at construction; the
// goroutine that owns the exclusive resource holds it, so no other caller
// can reach the resource's phase.
type ExclusiveToken struct {
	c *FrameCoordinator
}

// ChunkedSystem optionally lets a system run as parallel range chunks when
// its profile suggests the cost is worth spreading. Chunks of one system
// touch disjoint element ranges, so they stay conflict-free within a batch.
type ChunkedSystem interface {
	System
	// ElementCount returns the number of elements the system iterates.
	ElementCount() int
	// InvokeRange runs the system over elements [start, end).
	InvokeRange(state interface{}, delta time.Duration, start, end int) error
}

// CoordinatorConfig configures a FrameCoordinator.
type CoordinatorConfig struct {
	// Policy executes batch work. Required, already started.
	Policy ExecutionPolicy
	// Graph supplies the batch plan. Required.
	Graph *Graph
	// ProfileAlpha is the smoothing factor for system profiles
	// (default DefaultProfileAlpha).
	ProfileAlpha float64
	// SplitThreshold is the smoothed cost above which a chunked system is
	// subdivided (default 2ms). Advisory only.
	SplitThreshold time.Duration
	// SplitFactor is how many chunks a subdivided system becomes
	// (default: logical CPU count).
	SplitFactor int
}

// FrameStats is a snapshot of per-frame bookkeeping.
type FrameStats struct {
	Frame             uint64
	LastFrameDuration time.Duration
	LastBatchDuration time.Duration
	BatchesRun        int
	ItemsRun          int
	FailedSystems     []string
}

// FrameCoordinator sequences one frame: plan, parallel batch execution,
// drain, exclusive-resource phase, frame-end bookkeeping. The barrier is
// reset at BeginFrame and signaled once batch execution fully drains, which
// is what keeps the exclusive resource untouched while parallel systems may
// still be mutating shared state.
type FrameCoordinator struct {
	policy ExecutionPolicy
	graph  *Graph

	barrier        *FrameBarrier
	token          *ExclusiveToken
	alpha          float64
	splitThreshold time.Duration
	splitFactor    int

	mu          sync.Mutex
	phase       FramePhase
	profiles    map[string]*SystemProfile
	frame       uint64
	frameStart  time.Time
	items       []*WorkItem
	stats       FrameStats
	onExclusive func(state interface{}, delta time.Duration)
}

// NewFrameCoordinator creates a coordinator and its exclusive token. The
// caller constructing the coordinator is the exclusive resource's owner and
// keeps the token on the owning goroutine.
func NewFrameCoordinator(cfg CoordinatorConfig) (*FrameCoordinator, *ExclusiveToken, error) {
	if cfg.Policy == nil {
		return nil, nil, fmt.Errorf("coordinator requires an execution policy")
	}
	if cfg.Graph == nil {
		return nil, nil, fmt.Errorf("coordinator requires a dependency graph")
	}
	if cfg.ProfileAlpha <= 0 || cfg.ProfileAlpha > 1 {
		cfg.ProfileAlpha = DefaultProfileAlpha
	}
	if cfg.SplitThreshold <= 0 {
		cfg.SplitThreshold = 2 * time.Millisecond
	}
	if cfg.SplitFactor <= 0 {
		cfg.SplitFactor = runtime.NumCPU()
	}

	c := &FrameCoordinator{
		policy:         cfg.Policy,
		graph:          cfg.Graph,
		barrier:        NewFrameBarrier(),
		alpha:          cfg.ProfileAlpha,
		splitThreshold: cfg.SplitThreshold,
		splitFactor:    cfg.SplitFactor,
		phase:          FrameIdle,
		profiles:       make(map[string]*SystemProfile),
	}
	c.token = &ExclusiveToken{c: c}
	return c, c.token, nil
}

// OnExclusive registers the callback run during the exclusive phase, after
// the exclusive-flagged systems. This is where the owning goroutine touches
// its single-threaded resource.
func (c *FrameCoordinator) OnExclusive(fn func(state interface{}, delta time.Duration)) {
	c.mu.Lock()
	c.onExclusive = fn
	c.mu.Unlock()
}

// Phase returns the coordinator's current phase.
func (c *FrameCoordinator) Phase() FramePhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Stats returns a snapshot of the frame statistics.
func (c *FrameCoordinator) Stats() FrameStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.FailedSystems = append([]string(nil), c.stats.FailedSystems...)
	return s
}

// Profile returns the profile for a system, creating it on first use.
func (c *FrameCoordinator) Profile(name string) *SystemProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileLocked(name)
}

func (c *FrameCoordinator) profileLocked(name string) *SystemProfile {
	p, ok := c.profiles[name]
	if !ok {
		p = NewSystemProfile(c.alpha)
		c.profiles[name] = p
	}
	return p
}

// BeginFrame starts a new frame cycle: the barrier is re-armed and the
// previous frame's bookkeeping is cleared.
func (c *FrameCoordinator) BeginFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != FrameIdle && c.phase != FrameComplete {
		return &PhaseError{Op: "BeginFrame", Have: c.phase, Want: FrameIdle}
	}
	c.phase = FrameActive
	c.frame++
	c.frameStart = time.Now()
	c.items = nil
	c.stats.Frame = c.frame
	c.stats.FailedSystems = nil
	c.stats.BatchesRun = 0
	c.stats.ItemsRun = 0
	c.barrier.Reset()
	return nil
}

// BeginSystemExecution plans if the graph is dirty, then runs every batch
// in order: a batch's systems are submitted to the policy and fully drained
// before the next batch starts. When all batches retired the barrier is
// signaled. A cycle error aborts before any batch executes and leaves the
// frame in FrameActive.
func (c *FrameCoordinator) BeginSystemExecution(state interface{}, delta time.Duration) error {
	c.mu.Lock()
	if c.phase != FrameActive {
		c.mu.Unlock()
		return &PhaseError{Op: "BeginSystemExecution", Have: c.phase, Want: FrameActive}
	}
	c.phase = FrameBatchesExecuting
	c.mu.Unlock()

	batches, err := c.graph.Plan()
	if err != nil {
		c.mu.Lock()
		c.phase = FrameActive
		c.mu.Unlock()
		return err
	}

	start := time.Now()
	for _, batch := range batches {
		c.runBatch(batch, state, delta)
	}

	c.mu.Lock()
	c.stats.BatchesRun = len(batches)
	c.stats.ItemsRun = len(c.items)
	c.stats.LastBatchDuration = time.Since(start)
	for _, item := range c.items {
		if item.State() == ItemFailed {
			c.stats.FailedSystems = append(c.stats.FailedSystems, item.Name())
		}
	}
	c.phase = FrameDrained
	c.mu.Unlock()

	c.barrier.Signal()
	return nil
}

// runBatch submits one batch's systems, longest smoothed cost first, and
// drains before returning. Batch membership is conflict-free by plan, so
// submission order inside the batch is pure load balancing.
func (c *FrameCoordinator) runBatch(batch Batch, state interface{}, delta time.Duration) {
	names := append([]string(nil), batch.Systems...)
	c.mu.Lock()
	sort.SliceStable(names, func(i, j int) bool {
		return c.profileLocked(names[i]).Average() > c.profileLocked(names[j]).Average()
	})
	c.mu.Unlock()

	for _, name := range names {
		sys, ok := c.graph.System(name)
		if !ok {
			// Unregistered between Plan and execution; the next Plan
			// rebuilds without it.
			log.WarningLog.Printf("system %q vanished from graph, skipping", name)
			continue
		}
		c.submitSystem(name, sys, state, delta)
	}

	c.policy.WaitForDrain()
}

func (c *FrameCoordinator) submitSystem(name string, sys System, state interface{}, delta time.Duration) {
	profile := c.Profile(name)

	// ShouldSplit judges on the previous frame's element count, which can
	// be stale; re-check the live count so a drained system runs whole.
	if cs, ok := sys.(ChunkedSystem); ok && cs.ElementCount() > 0 &&
		profile.ShouldSplit(c.splitFactor, c.splitThreshold) {
		c.submitChunks(name, cs, state, delta, profile)
		return
	}

	item := NewWorkItem(name, func(context.Context) error {
		start := time.Now()
		err := sys.Invoke(state, delta)
		elements := 0
		if cs, ok := sys.(ChunkedSystem); ok {
			elements = cs.ElementCount()
		}
		profile.Record(time.Since(start), elements)
		return err
	})
	c.submitItem(item)
}

// submitChunks splits a system into splitFactor range items. The chunk
// count and boundaries come from the advisory profile; a bad guess costs
// efficiency, never correctness.
func (c *FrameCoordinator) submitChunks(name string, cs ChunkedSystem, state interface{}, delta time.Duration, profile *SystemProfile) {
	count := cs.ElementCount()
	parts := c.splitFactor
	if parts > count {
		parts = count
	}
	if parts < 1 {
		parts = 1
	}
	chunk := (count + parts - 1) / parts

	batchStart := time.Now()
	for i := 0; i < parts; i++ {
		lo := i * chunk
		hi := lo + chunk
		if hi > count {
			hi = count
		}
		last := i == parts-1
		item := NewWorkItem(fmt.Sprintf("%s#%d", name, i), func(context.Context) error {
			err := cs.InvokeRange(state, delta, lo, hi)
			if last {
				profile.Record(time.Since(batchStart), count)
			}
			return err
		})
		c.submitItem(item)
	}
}

// submitItem hands the item to the policy. On a capacity failure the
// coordinator applies backpressure by running the item on its own
// goroutine instead of dropping it.
func (c *FrameCoordinator) submitItem(item *WorkItem) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()

	if err := c.policy.Submit(context.Background(), item); err != nil {
		log.WarningLog.Printf("submit of %s failed (%v), running inline", item.Name(), err)
		item.run(context.Background())
	}
}

// BeginExclusivePhase blocks on the frame barrier, then runs the
// exclusive-flagged systems sequentially on the calling goroutine, then the
// OnExclusive callback. Only the holder of the coordinator's token may
// enter; this is what keeps the single-threaded resource on its owning
// goroutine.
//
// The barrier wait precedes the phase check, so a call made between
// BeginFrame and BeginSystemExecution parks until some goroutine drives
// batch execution for the frame. Callers entering from FrameActive must
// guarantee such a driver exists, or the call blocks indefinitely.
func (c *FrameCoordinator) BeginExclusivePhase(tok *ExclusiveToken, state interface{}, delta time.Duration) error {
	if tok == nil || tok.c != c {
		return fmt.Errorf("exclusive phase requires the coordinator's own token")
	}

	// Wait first: in split-driver setups the owning goroutine parks here
	// while another goroutine is still driving batch execution.
	c.barrier.Wait()

	c.mu.Lock()
	if c.phase != FrameDrained {
		c.mu.Unlock()
		return &PhaseError{Op: "BeginExclusivePhase", Have: c.phase, Want: FrameDrained}
	}
	c.phase = FrameExclusive
	onExclusive := c.onExclusive
	c.mu.Unlock()

	for _, name := range c.graph.ExclusiveSystems() {
		sys, ok := c.graph.System(name)
		if !ok {
			continue
		}
		start := time.Now()
		if err := sys.Invoke(state, delta); err != nil {
			log.ErrorLog.Printf("exclusive system %q failed: %v", name, err)
			c.mu.Lock()
			c.stats.FailedSystems = append(c.stats.FailedSystems, name)
			c.mu.Unlock()
		}
		c.Profile(name).Record(time.Since(start), 0)
	}

	if onExclusive != nil {
		onExclusive(state, delta)
	}
	return nil
}

// EndFrame closes the cycle and updates frame statistics.
func (c *FrameCoordinator) EndFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != FrameExclusive {
		return &PhaseError{Op: "EndFrame", Have: c.phase, Want: FrameExclusive}
	}
	c.phase = FrameComplete
	c.stats.LastFrameDuration = time.Since(c.frameStart)
	log.DebugLog.Printf("frame %d complete in %v (%d batches, %d items, %d failed)",
		c.frame, c.stats.LastFrameDuration, c.stats.BatchesRun, c.stats.ItemsRun,
		len(c.stats.FailedSystems))
	return nil
}

// ExecuteFrame runs one full frame cycle on the calling goroutine, which
// must hold the exclusive token.
func (c *FrameCoordinator) ExecuteFrame(tok *ExclusiveToken, state interface{}, delta time.Duration) error {
	if err := c.BeginFrame(); err != nil {
		return err
	}
	if err := c.BeginSystemExecution(state, delta); err != nil {
		// Leave the machine reusable: an aborted plan returns to Idle.
		c.mu.Lock()
		c.phase = FrameIdle
		c.mu.Unlock()
		return err
	}
	if err := c.BeginExclusivePhase(tok, state, delta); err != nil {
		return err
	}
	return c.EndFrame()
}
