// Package store provides versioned shared arrays: fixed-length concurrent
// value arrays keyed by entity index, one array instance per resource type.
// Visibility is governed by per-slot atomic version stamps: a payload
// write always precedes the version store that publishes it, so readers see
// either the old or the new value, never a torn mix.
//
// The arrays do not serialize writers. Two Set calls on the same index of
// the same array must never run concurrently; the scheduler guarantees that
// by treating same-type writes as a write-write conflict that forces batch
// separation. Arrays for different resource types are independent, so
// concurrent writes to different types at the same index are expected.
package store

import "sync/atomic"

type slot[T any] struct {
	version atomic.Uint64
	value   T
}

// Array is a versioned shared array of T.
type Array[T any] struct {
	slots []slot[T]
	// gen supplies globally monotonically increasing version stamps,
	// shared by every slot of this array. Zero means absent.
	gen atomic.Uint64
}

// NewArray creates an array with the given fixed length. Every slot starts
// absent.
func NewArray[T any](length int) *Array[T] {
	if length < 0 {
		length = 0
	}
	return &Array[T]{slots: make([]slot[T], length)}
}

// Len returns the array's fixed length.
func (a *Array[T]) Len() int { return len(a.slots) }

// Get returns the value at index if present. A read racing a concurrent
// Set is re-tried until the version is stable, so the returned value is
// always one the writer fully published. Out-of-range indices read as
// absent.
func (a *Array[T]) Get(index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[index]
	for {
		v := s.version.Load()
		if v == 0 {
			return zero, false
		}
		value := s.value
		if s.version.Load() == v {
			return value, true
		}
	}
}

// Version returns the version stamp at index; zero means absent.
func (a *Array[T]) Version(index int) uint64 {
	if index < 0 || index >= len(a.slots) {
		return 0
	}
	return a.slots[index].version.Load()
}

// Set stores value at index and publishes it under a fresh version stamp.
// The payload write happens before the version store. An out-of-range
// index is a silent no-op; indices come from a bounded allocator upstream.
func (a *Array[T]) Set(index int, value T) {
	if index < 0 || index >= len(a.slots) {
		return
	}
	s := &a.slots[index]
	s.value = value
	s.version.Store(a.gen.Add(1))
}

// Remove marks the index absent. The value bytes may linger but are no
// longer observable through Get. Out-of-range is a silent no-op.
func (a *Array[T]) Remove(index int) {
	if index < 0 || index >= len(a.slots) {
		return
	}
	a.slots[index].version.Store(0)
}

// ForEach visits every present index with its current value, without
// locking. An element concurrently being Set may be observed as either the
// old or the new value.
func (a *Array[T]) ForEach(visit func(index int, value T)) {
	for i := range a.slots {
		s := &a.slots[i]
		for {
			v := s.version.Load()
			if v == 0 {
				break
			}
			value := s.value
			if s.version.Load() == v {
				visit(i, value)
				break
			}
		}
	}
}

// Count returns the number of present slots at the moment of the scan.
func (a *Array[T]) Count() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].version.Load() != 0 {
			n++
		}
	}
	return n
}
