// Package resource enforces process-wide budgets shared by the cache tiers:
// bytes held by the memory tier, concurrent writes into the persistent
// tier, and persistent tier IO throughput.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits. Zero values mean unlimited, except
// MaxBackgroundWrites which defaults to 1.
type Config struct {
	MemoryLimitBytes    int64
	MaxBackgroundWrites int64
	IOLimitBytesPerSec  int64
}

// Controller hands out budget. A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	mem     *semaphore.Weighted // nil when unlimited
	memUsed atomic.Int64

	writes       *semaphore.Weighted
	writesActive atomic.Int64

	io *rate.Limiter // nil when unlimited
}

// NewController creates a controller enforcing cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWrites <= 0 {
		cfg.MaxBackgroundWrites = 1
	}
	c := &Controller{
		cfg:    cfg,
		writes: semaphore.NewWeighted(cfg.MaxBackgroundWrites),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.mem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// ReserveMemory claims bytes of the memory budget without blocking. The
// memory tier evicts and retries while it returns false.
func (c *Controller) ReserveMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.mem != nil && !c.mem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory returns bytes claimed with ReserveMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireWrite blocks until a persistent tier write slot is free.
func (c *Controller) AcquireWrite(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.writes.Acquire(ctx, 1); err != nil {
		return err
	}
	c.writesActive.Add(1)
	return nil
}

// ReleaseWrite frees a slot taken with AcquireWrite.
func (c *Controller) ReleaseWrite() {
	if c == nil {
		return
	}
	c.writesActive.Add(-1)
	c.writes.Release(1)
}

// WaitIO blocks until the IO budget admits bytes. Requests above one
// second of budget are metered in burst-sized chunks.
func (c *Controller) WaitIO(ctx context.Context, bytes int) error {
	if c == nil || c.io == nil || bytes <= 0 {
		return nil
	}
	burst := c.io.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.io.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// Stats is a snapshot of budget usage.
type Stats struct {
	MemoryUsedBytes    int64 `json:"memoryUsedBytes"`
	MemoryLimitBytes   int64 `json:"memoryLimitBytes"`
	WritesActive       int64 `json:"writesActive"`
	WritesLimit        int64 `json:"writesLimit"`
	IOLimitBytesPerSec int64 `json:"ioLimitBytesPerSec"`
}

// Stats returns current usage.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsedBytes:    c.memUsed.Load(),
		MemoryLimitBytes:   c.cfg.MemoryLimitBytes,
		WritesActive:       c.writesActive.Load(),
		WritesLimit:        c.cfg.MaxBackgroundWrites,
		IOLimitBytesPerSec: c.cfg.IOLimitBytesPerSec,
	}
}
