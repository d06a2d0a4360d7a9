package sched

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks execution statistics for a policy. All fields are atomics
// and safe to read while the policy runs.
type Metrics struct {
	ItemsSubmitted atomic.Uint64
	ItemsCompleted atomic.Uint64
	ItemsFailed    atomic.Uint64
	ItemsDropped   atomic.Uint64
	ItemsRejected  atomic.Uint64
	Steals         atomic.Uint64
	TotalLatency   atomic.Int64 // Nanoseconds
	MinLatency     atomic.Int64 // Nanoseconds
	MaxLatency     atomic.Int64 // Nanoseconds
}

// AverageLatency returns the average item execution time.
func (m *Metrics) AverageLatency() time.Duration {
	retired := m.ItemsCompleted.Load() + m.ItemsFailed.Load()
	if retired == 0 {
		return 0
	}
	return time.Duration(m.TotalLatency.Load() / int64(retired))
}

// recordLatency updates latency metrics.
func (m *Metrics) recordLatency(duration time.Duration) {
	nanos := duration.Nanoseconds()
	m.TotalLatency.Add(nanos)

	for {
		current := m.MinLatency.Load()
		if current == 0 || nanos < current {
			if m.MinLatency.CompareAndSwap(current, nanos) {
				break
			}
		} else {
			break
		}
	}

	for {
		current := m.MaxLatency.Load()
		if nanos > current {
			if m.MaxLatency.CompareAndSwap(current, nanos) {
				break
			}
		} else {
			break
		}
	}
}

// String returns a formatted string representation of the metrics.
func (m *Metrics) String() string {
	return fmt.Sprintf(
		"Items: %d submitted, %d completed, %d failed, %d dropped, %d rejected | "+
			"Steals: %d | Latency: avg=%v, min=%v, max=%v",
		m.ItemsSubmitted.Load(),
		m.ItemsCompleted.Load(),
		m.ItemsFailed.Load(),
		m.ItemsDropped.Load(),
		m.ItemsRejected.Load(),
		m.Steals.Load(),
		m.AverageLatency(),
		time.Duration(m.MinLatency.Load()),
		time.Duration(m.MaxLatency.Load()),
	)
}
