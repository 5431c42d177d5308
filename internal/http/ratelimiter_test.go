package httpapi

import (
	"testing"
	"time"
)

func TestCooldownSpacesCalls(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewCooldown(time.Minute, func() time.Time { return now })

	if !limiter.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected second call inside the cooldown to be denied")
	}

	now = now.Add(40 * time.Second)
	if got := limiter.RetryAfter(); got != 20*time.Second {
		t.Fatalf("expected 20s until retry, got %v", got)
	}

	now = now.Add(20 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected call after the cooldown to be allowed")
	}
}

func TestCooldownDisabled(t *testing.T) {
	limiter := NewCooldown(0, nil)
	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("zero interval should allow every call")
	}
	if limiter.RetryAfter() != 0 {
		t.Fatal("zero interval never asks callers to wait")
	}
}
