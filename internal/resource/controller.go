// Package resource bounds backend usage.
//
// An accelerated amplification backend is a shared, expensive resource
// (remote hardware or a heavyweight in-process simulator). The controller
// caps how many amplify calls run concurrently and how many oracle
// evaluations per second the backend may issue, so one hot query cannot
// starve the rest of the database.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds backend resource limits. Zero values disable the
// corresponding limit.
type Config struct {
	// MaxInflight is the maximum number of concurrently running amplify calls.
	MaxInflight int64

	// EvalsPerSec is the maximum oracle-evaluation rate across all calls.
	EvalsPerSec float64

	// EvalBurst is the token bucket size for EvalsPerSec. Defaults to
	// EvalsPerSec when zero.
	EvalBurst int
}

// Controller enforces the configured limits. A nil Controller enforces nothing.
type Controller struct {
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	inflight atomic.Int64
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	c := &Controller{}
	if cfg.MaxInflight > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxInflight)
	}
	if cfg.EvalsPerSec > 0 {
		burst := cfg.EvalBurst
		if burst <= 0 {
			burst = int(cfg.EvalsPerSec)
			if burst < 1 {
				burst = 1
			}
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.EvalsPerSec), burst)
	}
	return c
}

// Acquire reserves an amplify-call slot, blocking until one is free or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	c.inflight.Add(1)
	return nil
}

// Release returns an amplify-call slot.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	c.inflight.Add(-1)
	if c.sem != nil {
		c.sem.Release(1)
	}
}

// WaitEval blocks until one oracle evaluation is permitted under the rate limit.
func (c *Controller) WaitEval(ctx context.Context) error {
	if c == nil || c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Inflight returns the number of amplify calls currently holding a slot.
func (c *Controller) Inflight() int64 {
	if c == nil {
		return 0
	}
	return c.inflight.Load()
}
