package backend

import (
	"context"
	"math"
	"math/rand"

	"github.com/crystal-tensor/svdb/internal/hash"
)

// Simulated mimics amplitude amplification in-process. The probe phase
// samples the domain for roughly pi/4 * sqrt(domain/estimate) rounds, which
// is the query count the amplification schedule would need. If probing
// misses, a deterministic ascending sweep verifies the answer, so the result
// is always exact: found if and only if a satisfying element exists.
//
// All randomness derives from the configured seed and the call parameters,
// never from wall-clock time. Repeated calls with the same inputs take the
// same probe sequence.
type Simulated struct {
	seed uint64
}

var _ Backend = (*Simulated)(nil)

func (s *Simulated) Evaluate(ctx context.Context, oracle Oracle, input uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return oracle(ctx, input)
}

func (s *Simulated) Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error) {
	if estimate == 0 || domain == 0 {
		return 0, false, nil
	}
	if estimate > domain {
		estimate = domain
	}

	rounds := probeRounds(domain, estimate)
	rng := rand.New(rand.NewSource(int64(callSeed(s.seed, domain, estimate))))

	for i := uint64(0); i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		x := uint64(rng.Int63n(int64(domain)))
		ok, err := oracle(ctx, x)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return x, true, nil
		}
	}

	// Probing is probabilistic; the sweep keeps the answer exact.
	for x := uint64(0); x < domain; x++ {
		if x%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
		}
		ok, err := oracle(ctx, x)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return x, true, nil
		}
	}
	return 0, false, nil
}

func (s *Simulated) Capabilities() Capabilities {
	return Capabilities{Mode: ModeSimulated, Seed: s.seed}
}

// probeRounds is the amplification query count: pi/4 * sqrt(domain/estimate),
// at least one round.
func probeRounds(domain, estimate uint64) uint64 {
	r := uint64(math.Ceil(math.Pi / 4 * math.Sqrt(float64(domain)/float64(estimate))))
	if r < 1 {
		r = 1
	}
	return r
}

// callSeed mixes the configured seed with the call parameters so distinct
// calls probe differently while staying reproducible.
func callSeed(seed, domain, estimate uint64) uint64 {
	return hash.Mix64(seed ^ hash.Mix64(domain*0x9e3779b97f4a7c15+estimate))
}
