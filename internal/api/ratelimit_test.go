package api

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests must pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request inside the window must be rejected")
	}
	if !rl.Allow("b") {
		t.Fatal("keys must not share a window")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("request after the window must pass")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(30 * time.Second)
	rl.Allow("recent")
	now = now.Add(45 * time.Second)

	rl.evict()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["old"]; ok {
		t.Error("expired key was kept")
	}
	if got := len(rl.requests["recent"]); got != 1 {
		t.Errorf("recent key has %d requests, want 1", got)
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Close()
	rl.Close()
}
