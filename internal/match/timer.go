package match

import "time"

// DefaultDuration is the length of a match.
const DefaultDuration = 300 * time.Second

// Timer counts a match down in whole seconds. It only runs while the match
// is unpaused and reports the end exactly once.
type Timer struct {
	duration time.Duration
	elapsed  time.Duration
	ended    bool
}

// Option configures optional timer parameters at construction time.
type Option func(*Timer)

// WithDuration overrides the match length. Durations under a second are ignored.
func WithDuration(d time.Duration) Option {
	return func(t *Timer) {
		if d >= time.Second {
			t.duration = d.Truncate(time.Second)
		}
	}
}

// NewTimer constructs a timer at the start of its countdown.
func NewTimer(opts ...Option) *Timer {
	timer := &Timer{duration: DefaultDuration}
	for _, opt := range opts {
		if opt != nil {
			opt(timer)
		}
	}
	return timer
}

// Advance adds running time and reports true on the call that ends the match.
func (t *Timer) Advance(dt time.Duration) bool {
	if t == nil || t.ended || dt <= 0 {
		return false
	}
	t.elapsed += dt
	if t.elapsed >= t.duration {
		t.elapsed = t.duration
		t.ended = true
		return true
	}
	return false
}

// Remaining is the displayed countdown in whole seconds.
func (t *Timer) Remaining() int {
	if t == nil {
		return 0
	}
	return int((t.duration - t.elapsed.Truncate(time.Second)) / time.Second)
}

// Ended reports whether the countdown reached zero.
func (t *Timer) Ended() bool { return t != nil && t.ended }

// Duration is the configured match length.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return DefaultDuration
	}
	return t.duration
}

// Reset rewinds the countdown to the full duration.
func (t *Timer) Reset() {
	if t == nil {
		return
	}
	t.elapsed = 0
	t.ended = false
}
