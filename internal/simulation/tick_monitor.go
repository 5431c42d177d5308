package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed server tick durations.
type TickMetricsSnapshot struct {
	Samples int           `json:"samples"`
	Average time.Duration `json:"average_ns"`
	Max     time.Duration `json:"max_ns"`
	Last    time.Duration `json:"last_ns"`
	Overrun int           `json:"overruns"`
}

// AverageFPS derives the frames-per-second equivalent of the sampled tick duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the simulation loop. Ticks
// slower than the budget count as overruns.
type TickMonitor struct {
	mu      sync.Mutex
	budget  time.Duration
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
	overrun int
}

// NewTickMonitor constructs an empty monitor; a zero budget disables overrun counting.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the duration of a completed simulation tick.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	m.max = max(m.max, duration)
	m.last = duration
	if m.budget > 0 && duration > m.budget {
		m.overrun++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := TickMetricsSnapshot{Samples: m.samples, Max: m.max, Last: m.last, Overrun: m.overrun}
	if m.samples > 0 {
		snap.Average = m.total / time.Duration(m.samples)
	}
	return snap
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last, m.overrun = 0, 0, 0, 0, 0
	m.mu.Unlock()
}
