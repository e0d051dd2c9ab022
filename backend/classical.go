package backend

import "context"

// ctxCheckInterval controls how often the scan loops poll for cancellation.
const ctxCheckInterval = 1024

// Classical is the deterministic fallback: oracle evaluation is a direct
// call, and Amplify is an ascending linear scan over the domain. It always
// returns the smallest satisfying element.
type Classical struct {
	seed uint64
}

var _ Backend = (*Classical)(nil)

func (c *Classical) Evaluate(ctx context.Context, oracle Oracle, input uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return oracle(ctx, input)
}

func (c *Classical) Amplify(ctx context.Context, oracle Oracle, domain, estimate uint64) (uint64, bool, error) {
	if estimate == 0 || domain == 0 {
		return 0, false, nil
	}
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

func (c *Classical) Capabilities() Capabilities {
	return Capabilities{Mode: ModeClassical, Seed: c.seed}
}
