// Package limiter holds the process-wide count of live terminals.
package limiter

import (
	"sync/atomic"

	"github.com/bhandras/termhub/internal/logger"
)

// Counter tracks live terminals across every session and enforces the global
// capacity bound. The bound is applied by TryAcquire only; the count itself
// never exceeds it because every increment goes through a compare-and-swap.
type Counter struct {
	limit int64
	count atomic.Int64
}

// NewCounter returns a Counter admitting at most limit concurrent holders.
func NewCounter(limit int) *Counter {
	return &Counter{limit: int64(limit)}
}

// TryAcquire takes one slot if the count is below the limit.
//
// It returns false and leaves the count unchanged when the limit is reached.
func (c *Counter) TryAcquire() bool {
	for {
		cur := c.count.Load()
		if cur >= c.limit {
			return false
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one slot taken by TryAcquire.
//
// A release without a matching acquire is a bug in the caller. Debug builds
// (-tags termhubdebug) panic on it; release builds log and ignore it.
func (c *Counter) Release() {
	for {
		cur := c.count.Load()
		if cur <= 0 {
			if strictRelease {
				panic("limiter: release without matching acquire")
			}
			logger.Warnf("limiter: release without matching acquire ignored")
			return
		}
		if c.count.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Count returns the current number of held slots.
func (c *Counter) Count() int {
	return int(c.count.Load())
}

// Limit returns the configured capacity.
func (c *Counter) Limit() int {
	return int(c.limit)
}
