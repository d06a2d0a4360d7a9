package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct {
	X, Y float64
}

func TestArray_SetGet(t *testing.T) {
	arr := NewArray[position](8)
	assert.Equal(t, 8, arr.Len())

	_, ok := arr.Get(3)
	assert.False(t, ok, "never-written slot should read as absent")

	arr.Set(3, position{X: 1, Y: 2})
	got, ok := arr.Get(3)
	require.True(t, ok)
	assert.Equal(t, position{X: 1, Y: 2}, got)

	arr.Set(3, position{X: 5, Y: 6})
	got, ok = arr.Get(3)
	require.True(t, ok)
	assert.Equal(t, position{X: 5, Y: 6}, got)
}

func TestArray_Remove(t *testing.T) {
	arr := NewArray[int](4)
	arr.Set(1, 42)

	arr.Remove(1)
	_, ok := arr.Get(1)
	assert.False(t, ok, "removed slot should read as absent")
	assert.Zero(t, arr.Version(1))

	// Re-setting after removal publishes again.
	arr.Set(1, 43)
	got, ok := arr.Get(1)
	require.True(t, ok)
	assert.Equal(t, 43, got)
}

func TestArray_OutOfRangeSilentNoOp(t *testing.T) {
	arr := NewArray[int](4)

	assert.NotPanics(t, func() {
		arr.Set(-1, 1)
		arr.Set(4, 1)
		arr.Set(1000, 1)
		arr.Remove(-1)
		arr.Remove(4)
	})

	_, ok := arr.Get(-1)
	assert.False(t, ok)
	_, ok = arr.Get(4)
	assert.False(t, ok)
	assert.Zero(t, arr.Version(-1))
	assert.Zero(t, arr.Version(1000))

	// In-range slots are untouched by the out-of-range writes.
	assert.Zero(t, arr.Count())
}

func TestArray_VersionMonotonic(t *testing.T) {
	arr := NewArray[int](4)

	arr.Set(0, 1)
	v1 := arr.Version(0)
	require.NotZero(t, v1)

	arr.Set(0, 2)
	v2 := arr.Version(0)
	assert.Greater(t, v2, v1)

	// Versions are drawn from one shared counter, so a write to another
	// index advances past it too.
	arr.Set(1, 3)
	assert.Greater(t, arr.Version(1), v2)
}

func TestArray_ForEach(t *testing.T) {
	arr := NewArray[string](8)
	arr.Set(1, "a")
	arr.Set(4, "b")
	arr.Set(6, "c")
	arr.Remove(4)

	seen := make(map[int]string)
	arr.ForEach(func(i int, v string) {
		seen[i] = v
	})
	assert.Equal(t, map[int]string{1: "a", 6: "c"}, seen)
	assert.Equal(t, 2, arr.Count())
}

func TestArray_ZeroLength(t *testing.T) {
	arr := NewArray[int](0)
	assert.Zero(t, arr.Len())
	assert.NotPanics(t, func() {
		arr.Set(0, 1)
		arr.ForEach(func(int, int) { t.Error("visited a slot in an empty array") })
	})

	neg := NewArray[int](-5)
	assert.Zero(t, neg.Len())
}

// A single writer and concurrent readers: every observed value must be one
// the writer fully published, even for multi-word payloads.
func TestArray_ConcurrentReadDuringWrite(t *testing.T) {
	arr := NewArray[position](16)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if v, ok := arr.Get(5); ok {
					// The writer always keeps X == Y; a torn read breaks it.
					assert.Equal(t, v.X, v.Y, "observed a torn value")
				}
				arr.ForEach(func(_ int, v position) {
					assert.Equal(t, v.X, v.Y, "observed a torn value during scan")
				})
			}
		}()
	}

	for i := 1; i <= 10000; i++ {
		f := float64(i)
		arr.Set(5, position{X: f, Y: f})
	}
	close(stop)
	wg.Wait()

	got, ok := arr.Get(5)
	require.True(t, ok)
	assert.Equal(t, position{X: 10000, Y: 10000}, got)
}

// Writers on distinct indices may run concurrently; each slot ends with
// its own writer's final value.
func TestArray_ConcurrentDistinctIndexWriters(t *testing.T) {
	const writers = 8
	arr := NewArray[int](writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for n := 0; n < 1000; n++ {
				arr.Set(idx, idx*1000+n)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		got, ok := arr.Get(i)
		require.True(t, ok)
		assert.Equal(t, i*1000+999, got)
	}
	assert.Equal(t, writers, arr.Count())
}
