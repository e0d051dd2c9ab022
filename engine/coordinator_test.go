package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/model"
)

const testDim = 4

func testKey(i int) model.Key {
	var k model.Key
	binary.LittleEndian.PutUint64(k[:], uint64(i)+1)
	return k
}

func testVec(i int) []float32 {
	v := make([]float32, testDim)
	for j := range v {
		v[j] = float32(i*testDim + j + 1)
	}
	return v
}

func testData(n int) ([]model.Key, [][]float32) {
	keys := make([]model.Key, n)
	vecs := make([][]float32, n)
	for i := range keys {
		keys[i] = testKey(i)
		vecs[i] = testVec(i)
	}
	return keys, vecs
}

func newBuilt(t *testing.T, n int, optFns ...func(*Options)) *Coordinator {
	t.Helper()
	be, err := backend.New()
	require.NoError(t, err)
	c, err := NewCoordinator(be, testDim, optFns...)
	require.NoError(t, err)
	keys, vecs := testData(n)
	require.NoError(t, c.Build(context.Background(), keys, vecs))
	return c
}

func TestNewCoordinatorValidation(t *testing.T) {
	be, err := backend.New()
	require.NoError(t, err)
	_, err = NewCoordinator(be, 0)
	assert.Error(t, err)
}

func TestOpsBeforeBuild(t *testing.T) {
	be, err := backend.New()
	require.NoError(t, err)
	c, err := NewCoordinator(be, testDim)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = c.Lookup(ctx, testKey(0))
	assert.ErrorIs(t, err, ErrNotBuilt)
	assert.ErrorIs(t, c.Insert(ctx, testKey(0), testVec(0)), ErrNotBuilt)
	assert.ErrorIs(t, c.Delete(ctx, testKey(0)), ErrNotBuilt)
	assert.ErrorIs(t, c.Rebuild(ctx), ErrNotBuilt)
	assert.ErrorIs(t, c.Compact(ctx), ErrNotBuilt)
}

func TestBuildAndLookup(t *testing.T) {
	c := newBuilt(t, 100)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		slot, vec, err := c.Lookup(ctx, testKey(i))
		require.NoError(t, err)
		assert.Less(t, uint32(slot), c.Snapshot().Store.NumSlots())
		assert.Equal(t, testVec(i), vec)
	}

	_, _, err := c.Lookup(ctx, testKey(1000))
	assert.ErrorIs(t, err, ErrNotFound)

	stats := c.Stats()
	assert.Equal(t, uint32(100), stats.LiveKeys)
	assert.Equal(t, model.Version(1), stats.Version)
	assert.Zero(t, stats.Rebuilds)
}

func TestBuildInputValidation(t *testing.T) {
	be, err := backend.New()
	require.NoError(t, err)
	c, err := NewCoordinator(be, testDim)
	require.NoError(t, err)
	ctx := context.Background()

	keys, vecs := testData(3)
	assert.Error(t, c.Build(ctx, keys, vecs[:2]))

	vecs[1] = []float32{1}
	assert.Error(t, c.Build(ctx, keys, vecs))
}

func TestInsertVisibleBeforeRebuild(t *testing.T) {
	c := newBuilt(t, 100, WithRebuildFraction(0.5))
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, testKey(500), testVec(500)))
	assert.Zero(t, c.Rebuilds())

	_, vec, err := c.Lookup(ctx, testKey(500))
	require.NoError(t, err)
	assert.Equal(t, testVec(500), vec)
	assert.Equal(t, 1, c.Stats().PendingInserts)
}

func TestInsertExistingKey(t *testing.T) {
	c := newBuilt(t, 10, WithRebuildFraction(0.5))
	ctx := context.Background()

	var exists *KeyExistsError
	assert.ErrorAs(t, c.Insert(ctx, testKey(3), testVec(3)), &exists)

	// A parked pending key is just as taken.
	require.NoError(t, c.Insert(ctx, testKey(77), testVec(77)))
	assert.ErrorAs(t, c.Insert(ctx, testKey(77), testVec(77)), &exists)
}

func TestBatchedRebuildTrigger(t *testing.T) {
	// Base 200 at 5% -> rebuild every 10 pending inserts. The threshold
	// stays anchored to the base count even as the key set grows.
	c := newBuilt(t, 200, WithRebuildFraction(0.05))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Insert(ctx, testKey(1000+i), testVec(1000+i)))
	}
	assert.Equal(t, uint64(2), c.Rebuilds())
	assert.Zero(t, c.Stats().PendingInserts)
	assert.Equal(t, uint32(220), c.Stats().LiveKeys)

	// Everything resolves through the rebuilt index.
	for i := 0; i < 20; i++ {
		_, vec, err := c.Lookup(ctx, testKey(1000+i))
		require.NoError(t, err)
		assert.Equal(t, testVec(1000+i), vec)
	}
}

func TestInsertWithoutFreeSlots(t *testing.T) {
	// Minimal indexes have no parking space, so inserts rebuild immediately.
	c := newBuilt(t, 50, WithMinimal(true))
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, testKey(99), testVec(99)))
	assert.Equal(t, uint64(1), c.Rebuilds())

	_, vec, err := c.Lookup(ctx, testKey(99))
	require.NoError(t, err)
	assert.Equal(t, testVec(99), vec)
}

func TestDelete(t *testing.T) {
	c := newBuilt(t, 50, WithRebuildFraction(0.5))
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, testKey(7)))
	_, _, err := c.Lookup(ctx, testKey(7))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, testKey(7)), ErrNotFound)
	assert.Equal(t, uint32(1), c.Stats().Tombstones)

	// Deleting a pending insert unparks it.
	require.NoError(t, c.Insert(ctx, testKey(500), testVec(500)))
	require.NoError(t, c.Delete(ctx, testKey(500)))
	_, _, err = c.Lookup(ctx, testKey(500))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, c.Stats().PendingInserts)
}

func TestCompactIdempotent(t *testing.T) {
	c := newBuilt(t, 60, WithRebuildFraction(0.5))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Delete(ctx, testKey(i)))
	}
	require.NoError(t, c.Compact(ctx))
	assert.Zero(t, c.Stats().Tombstones)
	assert.Equal(t, uint32(50), c.Stats().LiveKeys)
	versionAfterFirst := c.Stats().Version

	require.NoError(t, c.Compact(ctx))
	assert.Equal(t, versionAfterFirst, c.Stats().Version)

	for i := 10; i < 60; i++ {
		_, vec, err := c.Lookup(ctx, testKey(i))
		require.NoError(t, err)
		assert.Equal(t, testVec(i), vec)
	}
}

func TestRebuildEmptyKeySet(t *testing.T) {
	c := newBuilt(t, 5, WithRebuildFraction(0.5))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Delete(ctx, testKey(i)))
	}
	require.NoError(t, c.Rebuild(ctx))

	_, _, err := c.Lookup(ctx, testKey(0))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, c.Stats().LiveKeys)

	// The coordinator recovers once data arrives again.
	require.NoError(t, c.Insert(ctx, testKey(9), testVec(9)))
	_, vec, err := c.Lookup(ctx, testKey(9))
	require.NoError(t, err)
	assert.Equal(t, testVec(9), vec)
}

// gatedBackend passes through until armed; once armed, the first Amplify
// call signals started and every Amplify blocks until release is closed.
type gatedBackend struct {
	backend.Backend
	armed   atomic.Bool
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBackend) Amplify(ctx context.Context, oracle backend.Oracle, domain, estimate uint64) (uint64, bool, error) {
	if g.armed.Load() {
		g.once.Do(func() { close(g.started) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}
	return g.Backend.Amplify(ctx, oracle, domain, estimate)
}

func TestWritesProceedDuringRebuild(t *testing.T) {
	inner, err := backend.New()
	require.NoError(t, err)
	gate := &gatedBackend{
		Backend: inner,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c, err := NewCoordinator(gate, testDim, WithRebuildFraction(0.5))
	require.NoError(t, err)
	ctx := context.Background()
	keys, vecs := testData(50)
	require.NoError(t, c.Build(ctx, keys, vecs))

	gate.armed.Store(true)
	rebuildDone := make(chan error, 1)
	go func() { rebuildDone <- c.Rebuild(ctx) }()
	<-gate.started

	// The rebuild is parked inside the backend. Inserts must only wait on
	// the delta-set append, not on the rebuild itself.
	insertDone := make(chan error, 1)
	go func() { insertDone <- c.Insert(ctx, testKey(500), testVec(500)) }()
	select {
	case err := <-insertDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("insert blocked behind the in-progress rebuild")
	}

	// Reads resolve against the old snapshot, including the fresh insert.
	_, vec, err := c.Lookup(ctx, testKey(1))
	require.NoError(t, err)
	assert.Equal(t, testVec(1), vec)
	_, vec, err = c.Lookup(ctx, testKey(500))
	require.NoError(t, err)
	assert.Equal(t, testVec(500), vec)

	require.NoError(t, c.Delete(ctx, testKey(2)))

	select {
	case <-rebuildDone:
		t.Fatal("rebuild finished while the backend gate was still closed")
	default:
	}

	close(gate.release)
	require.NoError(t, <-rebuildDone)
	assert.Equal(t, uint64(1), c.Rebuilds())

	// Mid-rebuild writes survive the snapshot swap.
	_, vec, err = c.Lookup(ctx, testKey(500))
	require.NoError(t, err)
	assert.Equal(t, testVec(500), vec)
	_, _, err = c.Lookup(ctx, testKey(2))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, c.Stats().PendingInserts)
	assert.Equal(t, uint32(50), c.Stats().LiveKeys)
}

func TestDeterministicRebuild(t *testing.T) {
	c1 := newBuilt(t, 300, WithSeed(42))
	c2 := newBuilt(t, 300, WithSeed(42))

	assert.Equal(t, c1.Snapshot().Index.Pilots(), c2.Snapshot().Index.Pilots())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := newBuilt(t, 80, WithSeed(9), WithRebuildFraction(0.5))
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, testKey(900), testVec(900)))
	require.NoError(t, c.Delete(ctx, testKey(3)))

	var buf bytes.Buffer
	require.NoError(t, c.SaveTo(&buf))

	be, err := backend.New()
	require.NoError(t, err)
	restored, err := LoadFrom(&buf, be)
	require.NoError(t, err)

	assert.Equal(t, c.Stats().Version, restored.Stats().Version)
	assert.Equal(t, c.Stats().LiveKeys, restored.Stats().LiveKeys)
	assert.Equal(t, c.Stats().PendingInserts, restored.Stats().PendingInserts)
	assert.Equal(t, c.Stats().Tombstones, restored.Stats().Tombstones)

	for i := 0; i < 80; i++ {
		if i == 3 {
			_, _, err := restored.Lookup(ctx, testKey(3))
			assert.ErrorIs(t, err, ErrNotFound)
			continue
		}
		_, vec, err := restored.Lookup(ctx, testKey(i))
		require.NoError(t, err)
		assert.Equal(t, testVec(i), vec)
	}
	_, vec, err := restored.Lookup(ctx, testKey(900))
	require.NoError(t, err)
	assert.Equal(t, testVec(900), vec)

	// Restored free-slot bookkeeping keeps accepting inserts.
	require.NoError(t, restored.Insert(ctx, testKey(901), testVec(901)))
	_, _, err = restored.Lookup(ctx, testKey(901))
	require.NoError(t, err)
}

func TestLoadFromRejectsGarbage(t *testing.T) {
	be, err := backend.New()
	require.NoError(t, err)

	_, err = LoadFrom(bytes.NewReader([]byte("not a snapshot")), be)
	assert.Error(t, err)

	_, err = LoadFrom(bytes.NewReader(nil), be)
	assert.Error(t, err)
}
