package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when an accelerated backend cannot be reached.
	// Callers normally never see it: the implementation degrades to the
	// classical fallback and sets the Degraded capability flag instead.
	ErrUnavailable = errors.New("accelerated backend unavailable")
)

// Oracle is a boolean predicate over a search domain element.
// Oracles must be deterministic for the duration of one Amplify call.
type Oracle func(ctx context.Context, x uint64) (bool, error)

// Mode identifies the active backend implementation.
type Mode int

const (
	// ModeClassical is the deterministic linear-scan fallback.
	ModeClassical Mode = iota
	// ModeSimulated runs a seeded in-process amplitude-amplification simulation.
	ModeSimulated
	// ModeAccelerated routes amplification to external hardware or a service.
	ModeAccelerated
)

func (m Mode) String() string {
	switch m {
	case ModeClassical:
		return "classical_fallback"
	case ModeSimulated:
		return "simulated"
	case ModeAccelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Capabilities reports what the backend is actually doing right now.
// Degraded is set when a configured accelerated backend has fallen back to
// the classical path.
type Capabilities struct {
	Mode     Mode
	Degraded bool
	Seed     uint64
}

// Backend supplies oracle evaluation and amplitude-amplification search.
//
// Amplify returns (element, true, nil) when an element satisfying the oracle
// was found, and (0, false, nil) when the backend determined that no element
// satisfies it. estimate is the caller's guess of how many elements satisfy
// the oracle; estimate == 0 means "none" and short-circuits to not-found.
type Backend interface {
	Evaluate(ctx context.Context, oracle Oracle, input uint64) (bool, error)
	Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error)
	Capabilities() Capabilities
}

// Options configures backend construction.
type Options struct {
	// Mode selects the implementation. Default: ModeClassical.
	Mode Mode

	// Seed drives every pseudorandom choice the backend makes. It is part of
	// the build configuration: two runs with the same inputs and seed produce
	// identical results. Never derived from wall-clock time.
	Seed uint64

	// Client connects ModeAccelerated to actual hardware or a remote service.
	// If nil, or if the client fails its availability probe, the backend
	// degrades to the classical fallback and flags it.
	Client Client

	// MaxInflight bounds concurrent amplify calls on the accelerated
	// backend. Zero disables the limit.
	MaxInflight int

	// EvalsPerSec rate-limits oracle evaluations on the accelerated
	// backend, with EvalBurst as the burst allowance. Zero disables the
	// limit.
	EvalsPerSec float64
	EvalBurst   int

	// OnDegrade is invoked once when an accelerated backend falls back to the
	// classical path. Used to report the event to logging/metrics.
	OnDegrade func(err error)
}

// New constructs a backend for the configured mode.
func New(optFns ...func(o *Options)) (Backend, error) {
	opts := Options{Mode: ModeClassical}
	for _, fn := range optFns {
		fn(&opts)
	}

	switch opts.Mode {
	case ModeClassical:
		return &Classical{seed: opts.Seed}, nil
	case ModeSimulated:
		return &Simulated{seed: opts.Seed}, nil
	case ModeAccelerated:
		return newAccelerated(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend mode: %d", int(opts.Mode))
	}
}
