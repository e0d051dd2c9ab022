package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchSet(members ...uint64) Oracle {
	set := make(map[uint64]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return func(_ context.Context, x uint64) (bool, error) {
		_, ok := set[x]
		return ok, nil
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "classical_fallback", ModeClassical.String())
	assert.Equal(t, "simulated", ModeSimulated.String())
	assert.Equal(t, "accelerated", ModeAccelerated.String())
}

func TestNewDefaultsToClassical(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	assert.Equal(t, ModeClassical, b.Capabilities().Mode)
}

func TestClassicalAmplify(t *testing.T) {
	ctx := context.Background()
	b := &Classical{seed: 42}

	t.Run("finds smallest match", func(t *testing.T) {
		x, found, err := b.Amplify(ctx, matchSet(7, 3, 19), 32, 3)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, uint64(3), x)
	})

	t.Run("zero estimate short-circuits", func(t *testing.T) {
		calls := 0
		oracle := func(_ context.Context, _ uint64) (bool, error) {
			calls++
			return true, nil
		}
		_, found, err := b.Amplify(ctx, oracle, 32, 0)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Zero(t, calls)
	})

	t.Run("no match", func(t *testing.T) {
		_, found, err := b.Amplify(ctx, matchSet(), 32, 1)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("oracle error propagates", func(t *testing.T) {
		oErr := errors.New("boom")
		oracle := func(_ context.Context, _ uint64) (bool, error) { return false, oErr }
		_, _, err := b.Amplify(ctx, oracle, 8, 1)
		assert.ErrorIs(t, err, oErr)
	})

	t.Run("cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := b.Amplify(cctx, matchSet(1), 8, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSimulatedAmplify(t *testing.T) {
	ctx := context.Background()
	b := &Simulated{seed: 7}

	t.Run("always finds an existing match", func(t *testing.T) {
		for _, domain := range []uint64{1, 16, 256, 4096} {
			oracle := matchSet(domain - 1)
			x, found, err := b.Amplify(ctx, oracle, domain, 1)
			require.NoError(t, err)
			require.True(t, found, "domain=%d", domain)
			assert.Equal(t, domain-1, x)
		}
	})

	t.Run("no match is exact", func(t *testing.T) {
		_, found, err := b.Amplify(ctx, matchSet(), 4096, 4)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("deterministic per seed", func(t *testing.T) {
		oracle := matchSet(5, 100, 900)
		x1, found1, err := b.Amplify(ctx, oracle, 1024, 3)
		require.NoError(t, err)
		x2, found2, err := b.Amplify(ctx, oracle, 1024, 3)
		require.NoError(t, err)
		assert.Equal(t, found1, found2)
		assert.Equal(t, x1, x2)
	})

	t.Run("zero estimate short-circuits", func(t *testing.T) {
		_, found, err := b.Amplify(ctx, matchSet(0), 8, 0)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestProbeRounds(t *testing.T) {
	assert.Equal(t, uint64(1), probeRounds(1, 1))
	// pi/4 * sqrt(4096/1) = 50.26... -> 51
	assert.Equal(t, uint64(51), probeRounds(4096, 1))
	assert.GreaterOrEqual(t, probeRounds(1<<20, 1), probeRounds(1<<20, 16))
}

type fakeClient struct {
	pingErr    error
	amplifyErr error
	result     uint64
	found      bool
	calls      int
}

func (f *fakeClient) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeClient) Amplify(_ context.Context, _ Oracle, _, _ uint64) (uint64, bool, error) {
	f.calls++
	if f.amplifyErr != nil {
		return 0, false, f.amplifyErr
	}
	return f.result, f.found, nil
}

func TestAcceleratedDelegatesToClient(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{result: 17, found: true}
	b, err := New(func(o *Options) {
		o.Mode = ModeAccelerated
		o.Client = client
		o.Seed = 1
	})
	require.NoError(t, err)

	x, found, err := b.Amplify(ctx, matchSet(17), 64, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(17), x)
	assert.Equal(t, 1, client.calls)

	caps := b.Capabilities()
	assert.Equal(t, ModeAccelerated, caps.Mode)
	assert.False(t, caps.Degraded)
}

func TestAcceleratedDegradesOnClientFailure(t *testing.T) {
	ctx := context.Background()
	var degradeErr error
	client := &fakeClient{amplifyErr: errors.New("link down")}
	b, err := New(func(o *Options) {
		o.Mode = ModeAccelerated
		o.Client = client
		o.OnDegrade = func(err error) { degradeErr = err }
	})
	require.NoError(t, err)

	// First call falls through to the classical scan and still answers.
	x, found, err := b.Amplify(ctx, matchSet(9), 64, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(9), x)
	assert.EqualError(t, degradeErr, "link down")

	caps := b.Capabilities()
	assert.Equal(t, ModeClassical, caps.Mode)
	assert.True(t, caps.Degraded)

	// Subsequent calls never touch the client again.
	before := client.calls
	_, _, err = b.Amplify(ctx, matchSet(9), 64, 1)
	require.NoError(t, err)
	assert.Equal(t, before, client.calls)
}

func TestAcceleratedNilClientDegradesImmediately(t *testing.T) {
	b, err := New(func(o *Options) { o.Mode = ModeAccelerated })
	require.NoError(t, err)

	caps := b.Capabilities()
	assert.Equal(t, ModeClassical, caps.Mode)
	assert.True(t, caps.Degraded)

	x, found, err := b.Amplify(context.Background(), matchSet(2), 16, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), x)
}

type stallBackend struct {
	Classical
}

func (s *stallBackend) Evaluate(ctx context.Context, _ Oracle, _ uint64) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (s *stallBackend) Amplify(ctx context.Context, _ Oracle, _, _ uint64) (uint64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func TestWithTimeoutFallsBackPerCall(t *testing.T) {
	b := WithTimeout(&stallBackend{}, 10*time.Millisecond, nil)

	x, found, err := b.Amplify(context.Background(), matchSet(4), 16, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(4), x)
}

func TestWithTimeoutReportsEveryFallback(t *testing.T) {
	var reported []error
	b := WithTimeout(&stallBackend{}, 5*time.Millisecond, func(err error) {
		reported = append(reported, err)
	})

	for i := 0; i < 2; i++ {
		_, found, err := b.Amplify(context.Background(), matchSet(4), 16, 1)
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Len(t, reported, 2)
	for _, err := range reported {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestWithTimeoutBoundsEvaluate(t *testing.T) {
	var reported error
	b := WithTimeout(&stallBackend{}, 5*time.Millisecond, func(err error) { reported = err })

	ok, err := b.Evaluate(context.Background(), matchSet(4), 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, reported, context.DeadlineExceeded)
}

func TestWithTimeoutParentCancellationWins(t *testing.T) {
	fellBack := false
	b := WithTimeout(&stallBackend{}, 50*time.Millisecond, func(error) { fellBack = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := b.Amplify(ctx, matchSet(4), 16, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fellBack)
}

func TestWithTimeoutZeroBudgetIsNoop(t *testing.T) {
	inner := &Classical{seed: 3}
	assert.Same(t, Backend(inner), WithTimeout(inner, 0, nil))
}
