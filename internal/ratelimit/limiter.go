package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is sliding-window admission control for calls to one external
// dependency. At most maxRequests admissions are recorded inside any
// trailing window; Acquire suspends the caller until admitting one more
// would not exceed the cap. Limiters are never shared across dependencies.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	admissions  []time.Time
}

// NewLimiter returns a limiter admitting maxRequests per trailing window.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
	}
}

// Acquire blocks until an admission slot is available, records the
// admission, and returns. Returns early with the context error if the
// context is cancelled while waiting. No FIFO fairness is promised.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)

		if len(l.admissions) < l.maxRequests {
			l.admissions = append(l.admissions, now)
			l.mu.Unlock()
			return nil
		}

		// Oldest remaining admission determines when a slot frees up.
		wait := l.window - now.Sub(l.admissions[0])
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Re-evaluate rather than assuming the slot is still free:
		// another caller may have been admitted while we slept.
	}
}

// Pending reports the number of admissions still inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())
	return len(l.admissions)
}

// evict drops admissions older than the trailing window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admissions) && !l.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[i:]...)
	}
}
