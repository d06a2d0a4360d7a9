package sched

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ByteMirror/lockstep/log"
)

// node is one registered system plus its derived conflict sets.
type node struct {
	id     int
	name   string
	sys    System
	req    Requirement
	reads  map[string]struct{}
	writes map[string]struct{}
}

// Batch is an ordered group of system names with no pairwise read/write or
// write/write conflict. Systems within a batch may run fully in parallel;
// batches run strictly in sequence.
type Batch struct {
	Phase   Phase
	Systems []string
}

// Graph holds the registered systems and the cached batch plan. Plans are
// deterministic: the same registration sequence always yields the same
// partition, ties broken by registration order.
type Graph struct {
	mu        sync.Mutex
	nodes     []*node
	index     map[string]int
	nextID    int
	dirty     bool
	batches   []Batch
	exclusive []string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Register adds a system under a unique name and marks the graph dirty.
func (g *Graph) Register(name string, sys System) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.index[name]; exists {
		return fmt.Errorf("system %q already registered", name)
	}

	req := sys.Requirements()
	n := &node{
		id:     g.nextID,
		name:   name,
		sys:    sys,
		req:    req,
		reads:  toSet(req.Reads),
		writes: toSet(req.Writes),
	}
	g.nextID++
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.dirty = true
	log.DebugLog.Printf("registered system %q (reads=%v writes=%v phase=%s exclusive=%v)",
		name, req.Reads, req.Writes, req.Phase, req.Exclusive)
	return nil
}

// Unregister removes a system and marks the graph dirty.
func (g *Graph) Unregister(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, exists := g.index[name]
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
	delete(g.index, name)
	for j := i; j < len(g.nodes); j++ {
		g.index[g.nodes[j].name] = j
	}
	g.dirty = true
	return nil
}

// Invalidate marks the cached plan stale, forcing the next Plan to rebuild.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	g.dirty = true
	g.mu.Unlock()
}

// Dirty reports whether the cached plan is stale.
func (g *Graph) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirty
}

// Len returns the number of registered systems.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// System returns a registered system by name.
func (g *Graph) System(name string) (System, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.nodes[i].sys, true
}

// ExclusiveSystems returns the names of exclusive-flagged systems in
// registration order, per the last successful Plan.
func (g *Graph) ExclusiveSystems() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.exclusive))
	copy(out, g.exclusive)
	return out
}

// Plan partitions the registered systems into conflict-free batches,
// rebuilding only when the graph is dirty. A cycle yields a *CycleError
// and zero batches; the graph stays dirty so a corrected registration set
// can be replanned.
func (g *Graph) Plan() ([]Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dirty {
		return g.batches, nil
	}

	batches, exclusive, err := g.plan()
	if err != nil {
		g.batches = nil
		g.exclusive = nil
		return nil, err
	}
	g.batches = batches
	g.exclusive = exclusive
	g.dirty = false
	log.InfoLog.Printf("planned %d batches over %d systems (%d exclusive)",
		len(batches), len(g.nodes), len(exclusive))
	return g.batches, nil
}

func (g *Graph) plan() ([]Batch, []string, error) {
	var exclusive []string
	byPhase := make(map[Phase][]*node)
	for _, n := range g.nodes {
		if n.req.Exclusive {
			exclusive = append(exclusive, n.name)
			continue
		}
		byPhase[n.req.Phase] = append(byPhase[n.req.Phase], n)
	}

	phases := make([]Phase, 0, len(byPhase))
	for ph := range byPhase {
		phases = append(phases, ph)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

	var batches []Batch
	for _, ph := range phases {
		phaseBatches, err := g.planPhase(ph, byPhase[ph])
		if err != nil {
			return nil, nil, err
		}
		batches = append(batches, phaseBatches...)
	}
	return batches, exclusive, nil
}

// planPhase topologically batches one phase's nodes by repeated ready-set
// extraction. A node is ready once every predecessor sits in an already
// emitted batch; all ready nodes form one batch, in registration order.
func (g *Graph) planPhase(ph Phase, nodes []*node) ([]Batch, error) {
	preds := make(map[int]map[int]struct{}, len(nodes))
	blocked := make(map[int]bool)
	for _, n := range nodes {
		preds[n.id] = make(map[int]struct{})
	}

	// Conflict edges. Direction follows registration order (earlier
	// precedes) unless the earlier node explicitly names the later one as
	// its predecessor.
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			if !conflicts(a, b) {
				continue
			}
			if contains(a.req.After, b.name) {
				preds[a.id][b.id] = struct{}{}
			} else {
				preds[b.id][a.id] = struct{}{}
			}
		}
	}

	// Explicit predecessor edges, conflict or not.
	for _, n := range nodes {
		for _, predName := range n.req.After {
			pi, ok := g.index[predName]
			if !ok {
				return nil, fmt.Errorf("system %q: predecessor %q: %w", n.name, predName, ErrNotRegistered)
			}
			pred := g.nodes[pi]
			switch {
			case pred.req.Exclusive:
				// Exclusive systems run after every batch; ordering before
				// a batched system is unsatisfiable.
				blocked[n.id] = true
			case pred.req.Phase < ph:
				// Satisfied by phase ordering.
			case pred.req.Phase > ph:
				blocked[n.id] = true
			default:
				preds[n.id][pred.id] = struct{}{}
			}
		}
	}

	emitted := make(map[int]bool)
	remaining := len(nodes)
	var batches []Batch
	for remaining > 0 {
		var ready []*node
		for _, n := range nodes {
			if emitted[n.id] || blocked[n.id] {
				continue
			}
			ok := true
			for pid := range preds[n.id] {
				if !emitted[pid] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for _, n := range nodes {
				if !emitted[n.id] {
					stuck = append(stuck, n.name)
				}
			}
			return nil, &CycleError{Stuck: stuck}
		}

		batch := Batch{Phase: ph, Systems: make([]string, 0, len(ready))}
		for _, n := range ready {
			batch.Systems = append(batch.Systems, n.name)
			emitted[n.id] = true
			remaining--
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// conflicts reports whether two systems may not share a batch:
// write/write, write/read, or read/write overlap.
func conflicts(a, b *node) bool {
	return intersects(a.writes, b.writes) ||
		intersects(a.writes, b.reads) ||
		intersects(a.reads, b.writes)
}

func intersects(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func toSet(keys []string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}
