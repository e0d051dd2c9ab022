package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControllerIsNoop(t *testing.T) {
	var c *Controller
	require.NoError(t, c.Acquire(context.Background()))
	c.Release()
	require.NoError(t, c.WaitEval(context.Background()))
	assert.Equal(t, int64(0), c.Inflight())
}

func TestMaxInflight(t *testing.T) {
	c := NewController(Config{MaxInflight: 1})

	require.NoError(t, c.Acquire(context.Background()))
	assert.Equal(t, int64(1), c.Inflight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Acquire(ctx)
	assert.Error(t, err, "second acquire must block until the slot frees")

	c.Release()
	assert.Equal(t, int64(0), c.Inflight())
	require.NoError(t, c.Acquire(context.Background()))
	c.Release()
}

func TestEvalRateLimit(t *testing.T) {
	c := NewController(Config{EvalsPerSec: 100, EvalBurst: 1})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.WaitEval(context.Background()))
	}
	// 5 evaluations at 100/s with burst 1 needs at least ~40ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
