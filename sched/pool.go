package sched

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ByteMirror/lockstep/log"
)

// PoolConfig contains configuration options for the worker pool.
type PoolConfig struct {
	// Workers is the number of worker goroutines (default: logical CPU
	// count, minimum 1).
	Workers int
	// QueueCapacity is the fixed capacity of each worker's deque, rounded
	// up to a power of two (default: 256).
	QueueCapacity int
}

// DefaultPoolConfig returns a PoolConfig with default values.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       runtime.NumCPU(),
		QueueCapacity: 256,
	}
}

// worker owns one deque. Only its goroutine pushes and pops; everyone else
// steals.
type worker struct {
	id       int
	pool     *WorkerPool
	deque    *Deque
	rng      *rand.Rand
	itemsRun atomic.Uint64
	steals   atomic.Uint64
}

// workerCtxKey marks the context of a worker goroutine so Submit can route
// nested submissions to the submitting worker's own deque.
type workerCtxKey struct{}

// WorkerPool executes work items on a fixed set of goroutines, each
// draining its own work-stealing deque and stealing from peers when idle.
// It implements ExecutionPolicy.
type WorkerPool struct {
	cfg     PoolConfig
	workers []*worker

	// inbox receives submissions from goroutines outside the pool. Its push
	// side is serialized by inboxMu; workers and drain helpers consume it
	// through Steal only, so the deque's owner protocol is preserved.
	inbox   *Deque
	inboxMu sync.Mutex

	// inFlight counts items submitted but not yet retired or dropped.
	inFlight atomic.Int64

	metrics *Metrics
	signal  chan struct{}
	started atomic.Bool
	stop    atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool creates a worker pool with the given configuration. Call
// Start before submitting.
func NewWorkerPool(cfg PoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > 256 {
		cfg.Workers = 256
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.QueueCapacity > 1<<16 {
		cfg.QueueCapacity = 1 << 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		cfg:     cfg,
		inbox:   NewDeque(cfg.QueueCapacity),
		metrics: &Metrics{},
		signal:  make(chan struct{}, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers = append(p.workers, &worker{
			id:    i,
			pool:  p,
			deque: NewDeque(cfg.QueueCapacity),
			rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
		})
	}
	return p
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker pool already started")
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.workerLoop(w)
	}
	log.InfoLog.Printf("worker pool started with %d workers, queue capacity %d",
		len(p.workers), p.workers[0].deque.Cap())
	return nil
}

// Submit enqueues an item. Called from a worker goroutine it pushes onto
// that worker's own deque; from anywhere else it goes to the shared inbox.
// A full queue surfaces as ErrQueueFull and the item is not enqueued.
func (p *WorkerPool) Submit(ctx context.Context, item *WorkItem) error {
	if p.stop.Load() {
		return ErrShutdown
	}

	// Count before the push: once the item is in a deque it is stealable,
	// and a drain racing this submit must not see the counter lag behind.
	p.inFlight.Add(1)

	var err error
	if w, ok := ctx.Value(workerCtxKey{}).(*worker); ok && w.pool == p {
		err = w.deque.Push(item)
	} else {
		p.inboxMu.Lock()
		err = p.inbox.Push(item)
		p.inboxMu.Unlock()
	}
	if err != nil {
		p.inFlight.Add(-1)
		p.metrics.ItemsRejected.Add(1)
		return err
	}

	p.metrics.ItemsSubmitted.Add(1)

	// Wake an idle worker if one is parked.
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// WaitForDrain blocks until every submitted item has retired. The caller
// steals and executes pending items itself, so the wait cannot starve even
// when called from a worker goroutine.
func (p *WorkerPool) WaitForDrain() {
	for p.inFlight.Load() > 0 {
		if item, ok := p.inbox.Steal(); ok {
			p.metrics.Steals.Add(1)
			p.runItem(p.ctx, nil, item)
			continue
		}
		found := false
		for _, w := range p.workers {
			if item, ok := w.deque.Steal(); ok {
				p.metrics.Steals.Add(1)
				p.runItem(p.ctx, nil, item)
				found = true
				break
			}
		}
		if !found {
			runtime.Gosched()
		}
	}
}

// Shutdown stops the workers. Items already executing finish; items still
// queued are dropped in the Pending state, which callers must treat as a
// non-fatal, expected condition.
func (p *WorkerPool) Shutdown() {
	if !p.stop.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()

	dropped := 0
	for {
		if _, ok := p.inbox.Steal(); !ok {
			break
		}
		dropped++
		p.inFlight.Add(-1)
	}
	for _, w := range p.workers {
		for {
			if _, ok := w.deque.Steal(); !ok {
				break
			}
			dropped++
			p.inFlight.Add(-1)
		}
	}
	if dropped > 0 {
		p.metrics.ItemsDropped.Add(uint64(dropped))
		log.WarningLog.Printf("worker pool shut down with %d queued items dropped", dropped)
	}
	log.InfoLog.Printf("worker pool stopped: %s", p.metrics)
}

// Metrics returns the pool's execution metrics.
func (p *WorkerPool) Metrics() *Metrics { return p.metrics }

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	ID       int
	ItemsRun uint64
	Steals   uint64
	QueueLen int
}

// WorkerStats returns a snapshot of every worker's counters.
func (p *WorkerPool) WorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = WorkerStats{
			ID:       w.id,
			ItemsRun: w.itemsRun.Load(),
			Steals:   w.steals.Load(),
			QueueLen: w.deque.Len(),
		}
	}
	return stats
}

// workerLoop drains the worker's own deque, then the inbox, then steals
// from a pseudo-random peer, yielding when no work is found anywhere.
func (p *WorkerPool) workerLoop(w *worker) {
	defer p.wg.Done()

	ctx := context.WithValue(p.ctx, workerCtxKey{}, w)
	for {
		if p.stop.Load() {
			return
		}
		if item, ok := w.deque.Pop(); ok {
			p.runItem(ctx, w, item)
			continue
		}
		if item, ok := p.inbox.Steal(); ok {
			w.steals.Add(1)
			p.metrics.Steals.Add(1)
			p.runItem(ctx, w, item)
			continue
		}
		if item, ok := p.stealPeer(w); ok {
			p.runItem(ctx, w, item)
			continue
		}

		select {
		case <-p.signal:
		case <-p.ctx.Done():
			return
		case <-time.After(time.Millisecond):
			runtime.Gosched()
		}
	}
}

// stealPeer attempts to steal one item from a peer deque, starting at a
// pseudo-random offset so thieves spread out.
func (p *WorkerPool) stealPeer(w *worker) (*WorkItem, bool) {
	n := len(p.workers)
	if n < 2 {
		return nil, false
	}
	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		peer := p.workers[(start+i)%n]
		if peer == w {
			continue
		}
		if item, ok := peer.deque.Steal(); ok {
			w.steals.Add(1)
			p.metrics.Steals.Add(1)
			return item, true
		}
	}
	return nil, false
}

func (p *WorkerPool) runItem(ctx context.Context, w *worker, item *WorkItem) {
	start := time.Now()
	item.run(ctx)
	p.metrics.recordLatency(time.Since(start))
	if item.State() == ItemFailed {
		p.metrics.ItemsFailed.Add(1)
	} else {
		p.metrics.ItemsCompleted.Add(1)
	}
	if w != nil {
		w.itemsRun.Add(1)
	}
	p.inFlight.Add(-1)
}
