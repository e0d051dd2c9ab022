// Package searcher implements threshold-filtered top-k similarity search
// over a vector store.
//
// Two execution paths produce identical result sets. The classical path
// scans every live slot in parallel chunks with a bounded heap per worker.
// The amplified path repeatedly asks the backend to amplify an oracle that
// marks still-unseen slots above the threshold, excluding each hit until the
// backend reports no match remains. Both paths reduce the full match set to
// the k best, so k, ordering, and membership agree.
package searcher

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/distance"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/vectorstore"
)

// minChunk is the smallest per-worker scan range worth a goroutine.
const minChunk = 256

// Result is one search hit.
type Result struct {
	Slot  model.Slot
	Key   model.Key
	Score float32
}

// Engine executes searches against snapshots of a vector store.
// Safe for concurrent use.
type Engine struct {
	backend     backend.Backend
	simFn       distance.Func
	parallelism int
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism overrides the classical scan worker count.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// New creates a search engine using the given backend and similarity metric.
func New(be backend.Backend, metric distance.Metric, opts ...Option) (*Engine, error) {
	fn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		backend:     be,
		simFn:       fn,
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 {
		e.parallelism = 1
	}
	return e, nil
}

// TopK returns up to k live entries whose similarity to query is at least
// threshold, ordered by score descending, then slot ascending. An empty
// result is not an error. On cancellation the results gathered so far are
// returned together with the context error.
func (e *Engine) TopK(ctx context.Context, store *vectorstore.Store, query []float32, threshold float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("searcher: k must be positive, got %d", k)
	}
	if len(query) != store.Dim() {
		return nil, &vectorstore.DimensionMismatchError{Want: store.Dim(), Got: len(query)}
	}

	live := store.LiveSlots()
	if len(live) == 0 {
		return []Result{}, nil
	}

	if e.backend.Capabilities().Mode == backend.ModeClassical {
		return e.scanTopK(ctx, store, live, query, threshold, k)
	}
	return e.amplifyTopK(ctx, store, live, query, threshold, k)
}

// scanTopK is the exhaustive path: chunked parallel scan, one bounded heap
// per worker, merged at the end.
func (e *Engine) scanTopK(ctx context.Context, store *vectorstore.Store, live []model.Slot, query []float32, threshold float32, k int) ([]Result, error) {
	workers := e.parallelism
	if max := (len(live) + minChunk - 1) / minChunk; workers > max {
		workers = max
	}

	var mu sync.Mutex
	merged := newResultHeap(k)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(live) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(live) {
			hi = len(live)
		}
		if lo >= hi {
			break
		}
		part := live[lo:hi]
		g.Go(func() error {
			local := newResultHeap(k)
			for i, slot := range part {
				if i%ctxCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						break
					}
				}
				key, vec, err := store.Read(slot)
				if err != nil {
					continue
				}
				score := e.simFn(query, vec)
				if score >= threshold {
					local.push(Result{Slot: slot, Key: key, Score: score})
				}
			}
			mu.Lock()
			for _, r := range local.items {
				merged.push(r)
			}
			mu.Unlock()
			return gctx.Err()
		})
	}

	err := g.Wait()
	return sortResults(merged.items), err
}

const ctxCheckInterval = 512

// amplifyTopK drives the backend's amplification search without replacement:
// each hit is excluded from the oracle and the loop ends when the backend
// finds no further match. The full match set is then reduced to the k best.
func (e *Engine) amplifyTopK(ctx context.Context, store *vectorstore.Store, live []model.Slot, query []float32, threshold float32, k int) ([]Result, error) {
	excluded := roaring.New()
	oracle := func(_ context.Context, x uint64) (bool, error) {
		if x >= uint64(len(live)) || excluded.Contains(uint32(x)) {
			return false, nil
		}
		_, vec, err := store.Read(live[x])
		if err != nil {
			return false, nil
		}
		return e.simFn(query, vec) >= threshold, nil
	}

	matches := newResultHeap(k)
	domain := uint64(len(live))
	for {
		// Guess the remaining match count: the caller wants k, so assume k
		// minus what was already found, floored at one. Only the simulated
		// probe budget depends on this; correctness does not.
		estimate := uint64(1)
		if hits := uint64(excluded.GetCardinality()); hits < uint64(k) {
			estimate = uint64(k) - hits
		}
		if estimate > domain {
			estimate = domain
		}
		x, found, err := e.backend.Amplify(ctx, oracle, domain, estimate)
		if err != nil {
			return sortResults(matches.items), err
		}
		if !found {
			break
		}
		excluded.Add(uint32(x))
		slot := live[x]
		key, vec, err := store.Read(slot)
		if err != nil {
			continue
		}
		matches.push(Result{Slot: slot, Key: key, Score: e.simFn(query, vec)})
	}
	return sortResults(matches.items), nil
}

// sortResults orders hits by score descending, slot ascending.
func sortResults(results []Result) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Slot < results[j].Slot
	})
	return results
}
