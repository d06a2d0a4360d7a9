package sched

import (
	"testing"
	"time"
)

func TestSystemProfile_FirstSampleSetsAverage(t *testing.T) {
	p := NewSystemProfile(0.2)
	if p.Average() != 0 {
		t.Errorf("fresh profile average = %v, want 0", p.Average())
	}

	p.Record(10*time.Millisecond, 100)
	if got := p.Average(); got != 10*time.Millisecond {
		t.Errorf("average after first sample = %v, want 10ms", got)
	}
	if p.Samples() != 1 {
		t.Errorf("Samples = %d, want 1", p.Samples())
	}
	if p.LastElementCount() != 100 {
		t.Errorf("LastElementCount = %d, want 100", p.LastElementCount())
	}
}

func TestSystemProfile_Smoothing(t *testing.T) {
	p := NewSystemProfile(0.5)
	p.Record(100*time.Millisecond, 10)
	p.Record(200*time.Millisecond, 10)

	// avg = 100 + 0.5*(200-100) = 150
	if got := p.Average(); got != 150*time.Millisecond {
		t.Errorf("smoothed average = %v, want 150ms", got)
	}

	p.Record(150*time.Millisecond, 10)
	if got := p.Average(); got != 150*time.Millisecond {
		t.Errorf("smoothed average = %v, want 150ms", got)
	}
}

func TestSystemProfile_AlphaClamped(t *testing.T) {
	for _, alpha := range []float64{0, -1, 1.5} {
		p := NewSystemProfile(alpha)
		p.Record(100*time.Millisecond, 0)
		p.Record(200*time.Millisecond, 0)
		// DefaultProfileAlpha 0.2: avg = 100 + 0.2*100 = 120
		if got := p.Average(); got != 120*time.Millisecond {
			t.Errorf("alpha=%v: average = %v, want 120ms", alpha, got)
		}
	}
}

func TestSystemProfile_ShouldSplit(t *testing.T) {
	threshold := 2 * time.Millisecond

	p := NewSystemProfile(0.5)
	if p.ShouldSplit(4, threshold) {
		t.Error("unsampled profile advised splitting")
	}

	// Expensive with plenty of elements: split.
	p.Record(10*time.Millisecond, 1000)
	if !p.ShouldSplit(4, threshold) {
		t.Error("expensive profile did not advise splitting")
	}

	// Fewer elements than chunks: stay whole.
	p.Record(10*time.Millisecond, 2)
	if p.ShouldSplit(4, threshold) {
		t.Error("advised splitting with fewer elements than chunks")
	}

	// Degenerate part counts never split.
	p.Record(10*time.Millisecond, 1000)
	if p.ShouldSplit(1, threshold) || p.ShouldSplit(0, threshold) {
		t.Error("advised splitting into fewer than two parts")
	}

	// Cheap work stays whole regardless of element count.
	cheap := NewSystemProfile(1.0)
	cheap.Record(100*time.Microsecond, 1000)
	if cheap.ShouldSplit(4, threshold) {
		t.Error("cheap profile advised splitting")
	}
}
