package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/crystal-tensor/svdb/internal/resource"
)

// Client is the transport to an external amplification device or service.
// Implementations must be safe for concurrent use.
type Client interface {
	// Ping probes availability. A non-nil error marks the client unusable.
	Ping(ctx context.Context) error
	// Amplify runs one amplification search remotely. The oracle is invoked
	// locally on behalf of the remote schedule.
	Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error)
}

// Accelerated routes amplification to an external Client. Any client failure
// permanently degrades the backend to the classical fallback for the rest of
// its lifetime; callers observe this only through Capabilities().Degraded.
type Accelerated struct {
	client    Client
	fallback  *Classical
	ctrl      *resource.Controller
	seed      uint64
	degraded  atomic.Bool
	onDegrade func(err error)
	once      sync.Once
}

var _ Backend = (*Accelerated)(nil)

func newAccelerated(opts Options) *Accelerated {
	a := &Accelerated{
		client:    opts.Client,
		fallback:  &Classical{seed: opts.Seed},
		ctrl: resource.NewController(resource.Config{
			MaxInflight: int64(opts.MaxInflight),
			EvalsPerSec: opts.EvalsPerSec,
			EvalBurst:   opts.EvalBurst,
		}),
		seed:      opts.Seed,
		onDegrade: opts.OnDegrade,
	}
	if a.client == nil {
		a.degrade(ErrUnavailable)
	}
	return a
}

func (a *Accelerated) Evaluate(ctx context.Context, oracle Oracle, input uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := a.ctrl.WaitEval(ctx); err != nil {
		return false, err
	}
	return oracle(ctx, input)
}

func (a *Accelerated) Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error) {
	if estimate == 0 || domain == 0 {
		return 0, false, nil
	}
	if a.degraded.Load() {
		return a.fallback.Amplify(ctx, oracle, domain, estimate)
	}

	if err := a.ctrl.Acquire(ctx); err != nil {
		return 0, false, err
	}
	defer a.ctrl.Release()

	if err := a.client.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		a.degrade(err)
		return a.fallback.Amplify(ctx, oracle, domain, estimate)
	}

	x, found, err := a.client.Amplify(ctx, oracle, domain, estimate)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		a.degrade(err)
		return a.fallback.Amplify(ctx, oracle, domain, estimate)
	}
	return x, found, nil
}

func (a *Accelerated) Capabilities() Capabilities {
	mode := ModeAccelerated
	if a.degraded.Load() {
		mode = ModeClassical
	}
	return Capabilities{Mode: mode, Degraded: a.degraded.Load(), Seed: a.seed}
}

func (a *Accelerated) degrade(err error) {
	a.degraded.Store(true)
	a.once.Do(func() {
		if a.onDegrade != nil {
			a.onDegrade(err)
		}
	})
}
