// Package progress provides the tile-level progress counter shared across
// extraction workers. The counter's lifetime is scoped to one orchestrator
// run.
package progress

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Counter accumulates completed-tile counts from all workers.
type Counter struct {
	total int64
	done  int64
}

// NewCounter creates a counter sized by the verification pass's tile
// estimate. A total of 0 disables percentage reporting.
func NewCounter(total int64) *Counter {
	return &Counter{total: total}
}

// Add increments the counter and returns the new value.
func (c *Counter) Add(n int64) int64 {
	return atomic.AddInt64(&c.done, n)
}

// Done returns the number of completed tiles.
func (c *Counter) Done() int64 { return atomic.LoadInt64(&c.done) }

// Total returns the estimated total tile count.
func (c *Counter) Total() int64 { return atomic.LoadInt64(&c.total) }

// AddTotal grows the estimate, for totals discovered incrementally.
func (c *Counter) AddTotal(n int64) { atomic.AddInt64(&c.total, n) }

// LogEvery reports progress to the log at the given interval until ctx is
// canceled. Runs in its own goroutine.
func (c *Counter) LogEvery(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				done, total := c.Done(), c.Total()
				if total > 0 {
					log.Printf("Extracted %d/%d tiles (%.1f%%)", done, total, 100*float64(done)/float64(total))
				} else {
					log.Printf("Extracted %d tiles", done)
				}
			}
		}
	}()
}
