package ttspool

import (
	"context"
	"sync"
	"time"
)

// Collector tracks the in-flight syntheses of one turn so the drain phase can
// wait for them with a bounded deadline. Each tracked function typically
// awaits one future and emits the resulting audio or tts_error message.
type Collector struct {
	wg sync.WaitGroup
}

// Go runs fn in its own goroutine and tracks it until it returns.
func (c *Collector) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked function has returned, the deadline
// elapses, or ctx is cancelled. It reports whether all work settled in time;
// stragglers keep running in the background either way.
func (c *Collector) Wait(ctx context.Context, deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
