package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Periodic runs fn every interval. The timer is re-armed only after fn returns,
// so slow handlers never overlap.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)

		timer := time.NewTimer(p.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Debugf("stopping %s worker", p.name)
				return
			case <-timer.C:
				p.fn(ctx)
				timer.Reset(p.interval)
			}
		}
	}()

	log.Debugf("started %s worker, interval %s", p.name, p.interval)
}

// Stop does not wait for a running handler; use Wait for that.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}

	p.cancel()
	p.cancel = nil
}

func (p *Periodic) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cancel != nil
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
	}
}
