package svdb

import (
	"context"
	"time"

	"github.com/crystal-tensor/svdb/model"
)

// Match is one search result.
type Match struct {
	Key   Key
	Slot  model.Slot
	Score float32
}

// SearchQuery is a fluent top-k similarity search. Configure it and call
// Execute:
//
//	matches, err := db.Search(query).Threshold(0.8).K(10).Execute(ctx)
type SearchQuery struct {
	db        *DB
	query     []float32
	threshold float32
	k         int
}

// Search starts a query for vectors similar to query. Defaults: threshold 0,
// k 10.
func (db *DB) Search(query []float32) *SearchQuery {
	return &SearchQuery{
		db:        db,
		query:     query,
		threshold: 0,
		k:         10,
	}
}

// Threshold sets the minimum similarity score a match must reach.
func (sq *SearchQuery) Threshold(t float32) *SearchQuery {
	sq.threshold = t
	return sq
}

// K sets the maximum number of matches to return.
func (sq *SearchQuery) K(k int) *SearchQuery {
	sq.k = k
	return sq
}

// Execute runs the search against the current snapshot. Matches come back
// ordered by score descending, ties broken by ascending slot. An empty
// result is not an error.
func (sq *SearchQuery) Execute(ctx context.Context) ([]Match, error) {
	start := time.Now()
	matches, err := sq.execute(ctx)
	sq.db.metrics.RecordSearch(sq.k, time.Since(start), err)
	return matches, err
}

func (sq *SearchQuery) execute(ctx context.Context) ([]Match, error) {
	if sq.k <= 0 {
		return nil, ErrInvalidK
	}
	if len(sq.query) != sq.db.coord.Dim() {
		return nil, &ErrDimensionMismatch{Expected: sq.db.coord.Dim(), Actual: len(sq.query)}
	}

	snap := sq.db.coord.Snapshot()
	if snap == nil {
		return nil, ErrNotBuilt
	}

	results, err := sq.db.search.TopK(ctx, snap.Store, sq.query, sq.threshold, sq.k)
	if err != nil && results == nil {
		return nil, translateError(err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Key: r.Key, Slot: r.Slot, Score: r.Score}
	}
	// Cancellation surfaces alongside whatever was gathered.
	return matches, translateError(err)
}
