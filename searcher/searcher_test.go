package searcher

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/distance"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/vectorstore"
)

func testKey(i int) model.Key {
	var k model.Key
	binary.LittleEndian.PutUint64(k[:], uint64(i)+1)
	return k
}

// fillStore writes n unit vectors at random angles plus planted vectors
// equal to the query at the given slots.
func fillStore(t *testing.T, n int, planted []model.Slot, query []float32) *vectorstore.Store {
	t.Helper()
	store, err := vectorstore.New(len(query), uint32(n))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	plant := make(map[model.Slot]bool, len(planted))
	for _, s := range planted {
		plant[s] = true
	}
	for i := 0; i < n; i++ {
		vec := make([]float32, len(query))
		if plant[model.Slot(i)] {
			copy(vec, query)
		} else {
			for j := range vec {
				vec[j] = rng.Float32()*2 - 1
			}
			distance.NormalizeL2InPlace(vec)
		}
		require.NoError(t, store.Write(model.Slot(i), testKey(i), vec))
	}
	return store
}

func classicalEngine(t *testing.T) *Engine {
	t.Helper()
	be, err := backend.New()
	require.NoError(t, err)
	e, err := New(be, distance.MetricCosine)
	require.NoError(t, err)
	return e
}

func simulatedEngine(t *testing.T, seed uint64) *Engine {
	t.Helper()
	be, err := backend.New(func(o *backend.Options) {
		o.Mode = backend.ModeSimulated
		o.Seed = seed
	})
	require.NoError(t, err)
	e, err := New(be, distance.MetricCosine)
	require.NoError(t, err)
	return e
}

func TestTopKValidation(t *testing.T) {
	e := classicalEngine(t)
	store, err := vectorstore.New(2, 4)
	require.NoError(t, err)

	_, err = e.TopK(context.Background(), store, []float32{1, 0}, 0, 0)
	assert.Error(t, err)

	_, err = e.TopK(context.Background(), store, []float32{1, 0, 0}, 0, 1)
	var dm *vectorstore.DimensionMismatchError
	assert.ErrorAs(t, err, &dm)
}

func TestTopKEmptyStore(t *testing.T) {
	e := classicalEngine(t)
	store, err := vectorstore.New(2, 8)
	require.NoError(t, err)

	results, err := e.TopK(context.Background(), store, []float32{1, 0}, 0.5, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTopKThresholdExcludesAll(t *testing.T) {
	query := []float32{1, 0, 0, 0}
	store := fillStore(t, 64, nil, query)

	for _, e := range []*Engine{classicalEngine(t), simulatedEngine(t, 3)} {
		results, err := e.TopK(context.Background(), store, query, 1.1, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestTopKFindsPlantedMatches(t *testing.T) {
	query := []float32{0, 1, 0, 0}
	planted := []model.Slot{3, 17, 40}
	store := fillStore(t, 64, planted, query)

	results, err := classicalEngine(t).TopK(context.Background(), store, query, 0.999, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, want := range planted {
		assert.Equal(t, want, results[i].Slot)
		assert.Equal(t, testKey(int(want)), results[i].Key)
		assert.InDelta(t, 1.0, results[i].Score, 1e-5)
	}
}

func TestTopKOrdering(t *testing.T) {
	// Orthogonal axes give exact, distinct scores against a diagonal query.
	store, err := vectorstore.New(4, 4)
	require.NoError(t, err)
	axes := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	for i, v := range axes {
		require.NoError(t, store.Write(model.Slot(i), testKey(i), v))
	}

	query := []float32{0.1, 0.8, 0.5, 0.2}
	results, err := classicalEngine(t).TopK(context.Background(), store, query, -1, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, model.Slot(1), results[0].Slot)
	assert.Equal(t, model.Slot(2), results[1].Slot)
}

func TestTopKTieBrokenByAscendingSlot(t *testing.T) {
	query := []float32{1, 0}
	store, err := vectorstore.New(2, 6)
	require.NoError(t, err)
	for _, slot := range []model.Slot{5, 1, 3} {
		require.NoError(t, store.Write(slot, testKey(int(slot)), []float32{1, 0}))
	}

	results, err := classicalEngine(t).TopK(context.Background(), store, query, 0.9, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.Slot(1), results[0].Slot)
	assert.Equal(t, model.Slot(3), results[1].Slot)
}

func TestTopKSkipsTombstoned(t *testing.T) {
	query := []float32{0, 0, 1, 0}
	store := fillStore(t, 32, []model.Slot{4, 9}, query)
	require.NoError(t, store.Delete(4))

	results, err := classicalEngine(t).TopK(context.Background(), store, query, 0.999, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.Slot(9), results[0].Slot)
}

func TestTopKPathEquivalence(t *testing.T) {
	query := []float32{0, 0, 0, 1}
	for _, n := range []int{16, 256, 4096} {
		planted := []model.Slot{model.Slot(n / 4), model.Slot(n / 2), model.Slot(n - 1)}
		store := fillStore(t, n, planted, query)

		classical, err := classicalEngine(t).TopK(context.Background(), store, query, 0.999, 8)
		require.NoError(t, err)
		amplified, err := simulatedEngine(t, 7).TopK(context.Background(), store, query, 0.999, 8)
		require.NoError(t, err)

		assert.Equal(t, classical, amplified, "n=%d", n)
	}
}

func TestTopKCancellation(t *testing.T) {
	query := []float32{1, 0, 0, 0}
	store := fillStore(t, 1024, nil, query)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := classicalEngine(t).TopK(ctx, store, query, -1, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultHeapKeepsBest(t *testing.T) {
	h := newResultHeap(2)
	h.push(Result{Slot: 0, Score: 0.1})
	h.push(Result{Slot: 1, Score: 0.9})
	h.push(Result{Slot: 2, Score: 0.5})
	h.push(Result{Slot: 3, Score: 0.9})

	got := sortResults(h.items)
	require.Len(t, got, 2)
	assert.Equal(t, model.Slot(1), got[0].Slot)
	assert.Equal(t, model.Slot(3), got[1].Slot)
}
