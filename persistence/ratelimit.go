package persistence

import (
	"sync"
	"time"
)

// TokenBucket is the admission control for store writes. Tokens are whole
// units: one token is regenerated per regenInterval, up to capacity.
type TokenBucket struct {
	mu            sync.Mutex
	clock         Clock
	base          int
	perSession    int
	capacity      int
	available     int
	regenInterval time.Duration
	lastRefill    time.Time
}

// NewTokenBucket creates a full bucket sized for zero active sessions.
// capacity = base + perSession * activeSessions
func NewTokenBucket(base, perSession int, regenInterval time.Duration, clock Clock) *TokenBucket {
	if clock == nil {
		clock = SystemClock
	}
	if base < 0 {
		base = 0
	}
	if perSession < 0 {
		perSession = 0
	}
	if regenInterval <= 0 {
		regenInterval = time.Second
	}

	return &TokenBucket{
		clock:         clock,
		base:          base,
		perSession:    perSession,
		capacity:      base,
		available:     base, // Start with full bucket
		regenInterval: regenInterval,
		lastRefill:    clock.Now(),
	}
}

// refill credits floor(elapsed / regenInterval) tokens. lastRefill only moves
// by the intervals credited so partial intervals carry over; a full bucket
// does not bank idle time.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	if tb.available >= tb.capacity {
		tb.lastRefill = now
		return
	}

	elapsed := now.Sub(tb.lastRefill)
	if elapsed < tb.regenInterval {
		return
	}

	added := int(elapsed / tb.regenInterval)
	tb.available += added
	if tb.available >= tb.capacity {
		tb.available = tb.capacity
		tb.lastRefill = now
		return
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(added) * tb.regenInterval)
}

// TryConsume takes one token if available, without blocking
func (tb *TokenBucket) TryConsume() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.available > 0 {
		tb.available--
		return true
	}
	return false
}

// ResizeCapacity recomputes capacity for the number of active sessions.
// Shrinking clamps available tokens; growing does not add any.
func (tb *TokenBucket) ResizeCapacity(activeSessions int) {
	if activeSessions < 0 {
		activeSessions = 0
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	tb.capacity = tb.base + tb.perSession*activeSessions
	if tb.available > tb.capacity {
		tb.available = tb.capacity
	}
}

// Available returns the current number of available tokens
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.available
}

// Capacity returns the current bucket capacity
func (tb *TokenBucket) Capacity() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.capacity
}
