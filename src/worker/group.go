package worker

import "sync"

// Group runs venue calls off the caller's goroutine and lets Stop wait for them.
type Group struct {
	wg sync.WaitGroup
}

func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *Group) Wait() {
	g.wg.Wait()
}
