package simulation

import (
	"context"
	"time"
)

// StepFunc advances the simulation by a fixed timestep.
type StepFunc func(step time.Duration)

// maxCatchUpSteps bounds how many steps one wakeup may run after a stall.
const maxCatchUpSteps = 5

// Loop drives a fixed timestep simulation at the configured target frequency
// and reports how long each step took.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	done     chan struct{}
	cancel   context.CancelFunc
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc, monitor *TickMonitor) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{step: interval, stepFunc: step, monitor: monitor}
}

// Run ticks until the context is cancelled. It always returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()
	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			//1.- Accumulate elapsed time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			//2.- Drop backlog beyond the catch-up budget rather than spiral.
			if accumulator > maxCatchUpSteps*l.step {
				accumulator = maxCatchUpSteps * l.step
			}
			for accumulator >= l.step {
				started := time.Now()
				l.stepFunc(l.step)
				l.monitor.Observe(time.Since(started))
				accumulator -= l.step
			}
		}
	}
}

// Start runs the loop on its own goroutine until Stop or ctx cancellation.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		_ = l.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil || l.done == nil {
		return
	}
	l.cancel()
	<-l.done
	l.done = nil
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Clock is the monotonic match clock advanced by fixed steps.
type Clock struct {
	elapsed time.Duration
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(step time.Duration) time.Duration {
	if step > 0 {
		c.elapsed += step
	}
	return c.elapsed
}

// Now returns the current match time.
func (c *Clock) Now() time.Duration { return c.elapsed }

// Reset rewinds the clock to zero.
func (c *Clock) Reset() { c.elapsed = 0 }
