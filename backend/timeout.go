package backend

import (
	"context"
	"errors"
	"time"
)

// WithTimeout bounds every Evaluate and Amplify call of the wrapped backend.
// When a call exceeds the budget while the parent context is still live, the
// call is retried once on the classical fallback and onFallback (if non-nil)
// receives the deadline error. The fallback applies to that call only; the
// wrapped backend stays in place for the next one.
func WithTimeout(b Backend, d time.Duration, onFallback func(error)) Backend {
	if d <= 0 {
		return b
	}
	return &timeoutBackend{
		inner:      b,
		fallback:   &Classical{seed: b.Capabilities().Seed},
		budget:     d,
		onFallback: onFallback,
	}
}

type timeoutBackend struct {
	inner      Backend
	fallback   *Classical
	budget     time.Duration
	onFallback func(error)
}

var _ Backend = (*timeoutBackend)(nil)

func (t *timeoutBackend) Evaluate(ctx context.Context, oracle Oracle, input uint64) (bool, error) {
	bounded, cancel := context.WithTimeout(ctx, t.budget)
	ok, err := t.inner.Evaluate(bounded, oracle, input)
	cancel()
	if err == nil {
		return ok, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		t.report(err)
		return t.fallback.Evaluate(ctx, oracle, input)
	}
	return false, err
}

func (t *timeoutBackend) Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error) {
	bounded, cancel := context.WithTimeout(ctx, t.budget)
	x, found, err := t.inner.Amplify(bounded, oracle, domain, estimate)
	cancel()
	if err == nil {
		return x, found, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		t.report(err)
		return t.fallback.Amplify(ctx, oracle, domain, estimate)
	}
	return 0, false, err
}

func (t *timeoutBackend) report(err error) {
	if t.onFallback != nil {
		t.onFallback(err)
	}
}

func (t *timeoutBackend) Capabilities() Capabilities {
	return t.inner.Capabilities()
}
