package transport

import (
	"sync"
	"time"
)

// snapshotThrottle is a per-client token bucket over outbound snapshot bytes.
// Events are never throttled; a skipped snapshot is superseded by the next one.
type snapshotThrottle struct {
	mu      sync.Mutex
	rate    float64
	now     func() time.Time
	buckets map[string]*bucket
	skipped uint64
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newSnapshotThrottle(bytesPerSecond float64, clock func() time.Time) *snapshotThrottle {
	if bytesPerSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &snapshotThrottle{rate: bytesPerSecond, now: clock, buckets: make(map[string]*bucket)}
}

// allow charges size bytes to the client and reports whether the send fits.
func (t *snapshotThrottle) allow(clientID string, size int) bool {
	if t == nil || size <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	b, ok := t.buckets[clientID]
	if !ok {
		//1.- New clients start with a full second of budget.
		b = &bucket{tokens: t.rate, last: now}
		t.buckets[clientID] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+elapsed*t.rate, t.rate)
		b.last = now
	}
	if float64(size) > b.tokens {
		t.skipped++
		return false
	}
	b.tokens -= float64(size)
	return true
}

func (t *snapshotThrottle) forget(clientID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.buckets, clientID)
	t.mu.Unlock()
}

func (t *snapshotThrottle) skippedTotal() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}
