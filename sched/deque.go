package sched

import (
	"sync/atomic"
)

const cacheLineSize = 64

// Deque is a fixed-capacity Chase-Lev work-stealing deque of work items.
// Exactly one goroutine (the owner) may call Push and Pop; any other
// goroutine may call Steal. head and tail are monotonically increasing
// counters addressed into the slot array modulo capacity; head <= tail and
// tail-head never exceeds capacity.
type Deque struct {
	slots []*WorkItem
	mask  uint64

	// Padding keeps head and tail on separate cache lines so steals do not
	// contend with owner pushes.
	_ [cacheLineSize]byte

	head atomic.Uint64

	_ [cacheLineSize]byte

	tail atomic.Uint64
}

func nextPow2(n int) int {
	x := uint64(n - 1)
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return int(x + 1)
}

// NewDeque allocates a deque whose capacity is the requested value rounded
// up to a power of two.
func NewDeque(capacity int) *Deque {
	if capacity <= 0 {
		capacity = 1
	}
	size := nextPow2(capacity)
	return &Deque{
		slots: make([]*WorkItem, size),
		mask:  uint64(size - 1),
	}
}

// Cap returns the deque's fixed capacity.
func (d *Deque) Cap() int { return len(d.slots) }

// Len returns the number of live items. It is exact for the owner and a
// snapshot for everyone else.
func (d *Deque) Len() int {
	t := d.tail.Load()
	h := d.head.Load()
	if t < h {
		return 0
	}
	return int(t - h)
}

// Push appends an item at the tail. Owner-only. Returns ErrQueueFull when
// the deque holds capacity items; the slot is never overwritten.
func (d *Deque) Push(item *WorkItem) error {
	t := d.tail.Load()
	h := d.head.Load()
	if t-h >= uint64(len(d.slots)) {
		return ErrQueueFull
	}
	d.slots[t&d.mask] = item
	// The store of tail publishes the slot write above to stealing
	// goroutines whose load of tail acquires it.
	d.tail.Store(t + 1)
	return nil
}

// Pop removes and returns the most recently pushed item. Owner-only.
// The last-item race against a concurrent Steal is resolved with a CAS on
// head: exactly one of the two wins, the loser observes empty.
func (d *Deque) Pop() (*WorkItem, bool) {
	t := d.tail.Load()
	if t == 0 {
		return nil, false
	}
	t--
	d.tail.Store(t)

	h := d.head.Load()
	if h <= t {
		item := d.slots[t&d.mask]
		if h == t {
			// One item left; a thief may be claiming it right now.
			if !d.head.CompareAndSwap(h, h+1) {
				d.tail.Store(t + 1)
				return nil, false
			}
			d.tail.Store(t + 1)
		}
		return item, true
	}

	d.tail.Store(t + 1)
	return nil, false
}

// Steal removes and returns the least recently pushed item. Safe from any
// non-owner goroutine. The CAS on head guarantees each slot is claimed by
// at most one of Pop/Steal across all callers.
func (d *Deque) Steal() (*WorkItem, bool) {
	h := d.head.Load()
	t := d.tail.Load()
	if h >= t {
		return nil, false
	}
	item := d.slots[h&d.mask]
	if !d.head.CompareAndSwap(h, h+1) {
		return nil, false
	}
	return item, true
}
