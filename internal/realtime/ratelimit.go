package realtime

import (
	"sync"
	"time"
)

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window message counter keyed by connection id.
// State is O(1) per connection and removed on disconnect.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow counts one inbound message for the connection and reports whether
// it is still within the window's budget. A max of zero disables limiting.
func (rl *RateLimiter) Allow(connID string) bool {
	if rl.max <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[connID]
	if !ok {
		w = &rateWindow{start: now}
		rl.windows[connID] = w
	}

	if now.Sub(w.start) > rl.window {
		w.start = now
		w.count = 0
	}

	w.count++
	return w.count <= rl.max
}

// Forget drops the connection's window state.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	delete(rl.windows, connID)
	rl.mu.Unlock()
}
