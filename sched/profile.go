package sched

import (
	"sync"
	"time"
)

// DefaultProfileAlpha is the smoothing factor applied to execution-time
// samples when none is configured.
const DefaultProfileAlpha = 0.2

// SystemProfile keeps an exponentially weighted moving average of a
// system's execution time plus its last observed element count. It is
// advisory: the coordinator uses it to order submissions and to decide
// whether a system is worth subdividing, never for correctness.
type SystemProfile struct {
	alpha float64

	mu        sync.Mutex
	avgNanos  float64
	init      bool
	samples   uint64
	lastCount int
}

// NewSystemProfile creates a profile with the given smoothing factor,
// clamped to (0, 1].
func NewSystemProfile(alpha float64) *SystemProfile {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultProfileAlpha
	}
	return &SystemProfile{alpha: alpha}
}

// Record folds one execution sample into the average.
func (p *SystemProfile) Record(d time.Duration, elements int) {
	nanos := float64(d.Nanoseconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.init {
		p.avgNanos += p.alpha * (nanos - p.avgNanos)
	} else {
		p.avgNanos = nanos
		p.init = true
	}
	p.samples++
	p.lastCount = elements
}

// Average returns the smoothed execution time.
func (p *SystemProfile) Average() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.avgNanos)
}

// LastElementCount returns the element count seen by the last sample.
func (p *SystemProfile) LastElementCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCount
}

// Samples returns how many executions have been recorded.
func (p *SystemProfile) Samples() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}

// ShouldSplit advises whether the system's work is worth subdividing into
// parts parallel chunks: the smoothed cost must exceed threshold and there
// must be at least one element per chunk.
func (p *SystemProfile) ShouldSplit(parts int, threshold time.Duration) bool {
	if parts < 2 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.init {
		return false
	}
	return time.Duration(p.avgNanos) >= threshold && p.lastCount >= parts
}
