package worker

import (
	"sync"
	"time"
)

// Gate answers "is it time yet" against its own last run.
type Gate struct {
	interval time.Duration
	last     time.Time
	mu       sync.Mutex
}

// Due marks the gate as run when it returns true.
func (g *Gate) Due(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}

	g.last = now
	return true
}

func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}
