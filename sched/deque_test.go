package sched

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func noopItem(name string) *WorkItem {
	return NewWorkItem(name, func(context.Context) error { return nil })
}

func TestDeque_PushPopLIFO(t *testing.T) {
	d := NewDeque(8)

	for i := 0; i < 3; i++ {
		if err := d.Push(noopItem(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	for i := 2; i >= 0; i-- {
		item, ok := d.Pop()
		if !ok {
			t.Fatalf("Pop returned empty, want item-%d", i)
		}
		if item.Name() != fmt.Sprintf("item-%d", i) {
			t.Errorf("Pop order wrong: got %s, want item-%d", item.Name(), i)
		}
	}

	if _, ok := d.Pop(); ok {
		t.Error("Pop on empty deque returned an item")
	}
}

func TestDeque_StealFIFO(t *testing.T) {
	d := NewDeque(8)

	for i := 0; i < 3; i++ {
		if err := d.Push(noopItem(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		item, ok := d.Steal()
		if !ok {
			t.Fatalf("Steal returned empty, want item-%d", i)
		}
		if item.Name() != fmt.Sprintf("item-%d", i) {
			t.Errorf("Steal order wrong: got %s, want item-%d", item.Name(), i)
		}
	}

	if _, ok := d.Steal(); ok {
		t.Error("Steal on empty deque returned an item")
	}
}

func TestDeque_CapacityIntegrity(t *testing.T) {
	const capacity = 8
	d := NewDeque(capacity)

	if d.Cap() != capacity {
		t.Fatalf("Cap() = %d, want %d", d.Cap(), capacity)
	}

	for i := 0; i < capacity; i++ {
		if err := d.Push(noopItem(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	if err := d.Push(noopItem("overflow")); err != ErrQueueFull {
		t.Errorf("Push beyond capacity: got %v, want ErrQueueFull", err)
	}

	// Every original item must still be present, nothing overwritten.
	seen := make(map[string]bool)
	for {
		item, ok := d.Steal()
		if !ok {
			break
		}
		seen[item.Name()] = true
	}
	if len(seen) != capacity {
		t.Errorf("drained %d distinct items, want %d", len(seen), capacity)
	}
}

func TestDeque_CapacityRoundsToPowerOfTwo(t *testing.T) {
	d := NewDeque(9)
	if d.Cap() != 16 {
		t.Errorf("Cap() = %d, want 16", d.Cap())
	}
	d = NewDeque(0)
	if d.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", d.Cap())
	}
}

func TestDeque_WrapAround(t *testing.T) {
	d := NewDeque(4)
	for round := 0; round < 10; round++ {
		for i := 0; i < 4; i++ {
			if err := d.Push(noopItem("x")); err != nil {
				t.Fatalf("round %d push %d: %v", round, i, err)
			}
		}
		for i := 0; i < 4; i++ {
			if _, ok := d.Steal(); !ok {
				t.Fatalf("round %d steal %d: empty", round, i)
			}
		}
	}
}

// TestDeque_MutualExclusion drains a full deque through a concurrent owner
// (popping) and a herd of thieves (stealing) and verifies every item is
// claimed by exactly one caller.
func TestDeque_MutualExclusion(t *testing.T) {
	const (
		numItems    = 1 << 12
		numStealers = 8
	)
	d := NewDeque(numItems)

	for i := 0; i < numItems; i++ {
		if err := d.Push(noopItem(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	claims := make([][]*WorkItem, numStealers+1)

	for s := 0; s < numStealers; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for {
				item, ok := d.Steal()
				if !ok {
					if d.Len() == 0 {
						return
					}
					continue
				}
				claims[s] = append(claims[s], item)
			}
		}(s)
	}

	// The owner pops concurrently from the other end.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			item, ok := d.Pop()
			if !ok {
				if d.Len() == 0 {
					return
				}
				continue
			}
			claims[numStealers] = append(claims[numStealers], item)
		}
	}()

	wg.Wait()

	seen := make(map[string]int)
	total := 0
	for _, claimed := range claims {
		for _, item := range claimed {
			seen[item.ID()]++
			total++
		}
	}
	if total != numItems {
		t.Errorf("claimed %d items, want %d", total, numItems)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", id, n)
		}
	}
}

func BenchmarkDeque_PushPop(b *testing.B) {
	d := NewDeque(1 << 10)
	item := noopItem("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := d.Push(item); err != nil {
			b.Fatal(err)
		}
		if _, ok := d.Pop(); !ok {
			b.Fatal("empty")
		}
	}
}

func BenchmarkDeque_Steal(b *testing.B) {
	d := NewDeque(1 << 10)
	item := noopItem("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := d.Push(item); err != nil {
			b.Fatal(err)
		}
		if _, ok := d.Steal(); !ok {
			b.Fatal("empty")
		}
	}
}
