package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodic(t *testing.T) {
	t.Run("ticks never overlap", func(t *testing.T) {
		// arrange
		var running, overlaps, calls int32
		p := NewPeriodic("test", time.Millisecond, func(ctx context.Context) {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&calls, 1)
			atomic.AddInt32(&running, -1)
		})

		// act
		p.Start(context.Background())
		p.Start(context.Background())
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
		p.Stop()
		p.Wait()

		// assert
		assert.Equal(t, int32(0), atomic.LoadInt32(&overlaps))
		assert.False(t, p.IsRunning())
	})

	t.Run("stop prevents further ticks", func(t *testing.T) {
		var calls int32
		p := NewPeriodic("test", time.Millisecond, func(ctx context.Context) {
			atomic.AddInt32(&calls, 1)
		})

		p.Start(context.Background())
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, time.Millisecond)
		p.Stop()
		p.Stop()
		p.Wait()
		after := atomic.LoadInt32(&calls)
		time.Sleep(10 * time.Millisecond)

		assert.Equal(t, after, atomic.LoadInt32(&calls))
	})

	t.Run("can be restarted", func(t *testing.T) {
		var calls int32
		p := NewPeriodic("test", time.Millisecond, func(ctx context.Context) {
			atomic.AddInt32(&calls, 1)
		})

		p.Start(context.Background())
		p.Stop()
		p.Wait()
		p.Start(context.Background())

		assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, time.Millisecond)
		p.Stop()
	})
}

func TestGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGate(10 * time.Second)

	assert.True(t, g.Due(now))
	assert.False(t, g.Due(now.Add(5*time.Second)))
	assert.True(t, g.Due(now.Add(10*time.Second)))

	g.Reset()
	assert.True(t, g.Due(now.Add(11*time.Second)))
}

func TestGroup(t *testing.T) {
	var g Group
	var calls int32

	for i := 0; i < 5; i++ {
		g.Go(func() { atomic.AddInt32(&calls, 1) })
	}
	g.Wait()

	assert.Equal(t, int32(5), calls)
}
