package broker

import (
	"sync"
	"time"
)

// ReconnectLimiter allows one reconnect per window.
type ReconnectLimiter struct {
	window time.Duration
	last   time.Time
	now    func() time.Time
	mu     sync.Mutex
}

func (l *ReconnectLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.window {
		return false
	}

	l.last = now
	return true
}

func NewReconnectLimiter(window time.Duration, now func() time.Time) *ReconnectLimiter {
	if now == nil {
		now = time.Now
	}

	return &ReconnectLimiter{
		window: window,
		now:    now,
	}
}
