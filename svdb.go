package svdb

import (
	"context"
	"time"

	"github.com/crystal-tensor/svdb/changelog"
	"github.com/crystal-tensor/svdb/distance"
	"github.com/crystal-tensor/svdb/engine"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/searcher"
)

// Key is the fixed-size content key addressing a vector.
type Key = model.Key

// KeyVector pairs a key with its embedding vector.
type KeyVector struct {
	Key    Key
	Vector []float32
}

// Stats summarizes database state.
type Stats struct {
	Version        uint64
	LiveKeys       uint32
	Slots          uint32
	PendingInserts int
	FreeSlots      int
	Tombstones     uint32
	Rebuilds       uint64
}

// Capabilities reports the active search backend configuration.
type Capabilities struct {
	// Mode is the backend actually in use: "classical_fallback",
	// "simulated", or "accelerated".
	Mode string
	// Degraded is true when a configured accelerated backend has fallen
	// back to the classical path.
	Degraded bool
	// Seed drives all pseudorandom choices.
	Seed uint64
}

// DB is an embedded vector database. All methods are safe for concurrent
// use; reads never block behind writers.
type DB struct {
	coord    *engine.Coordinator
	search   *searcher.Engine
	metric   distance.Metric
	builder  Builder
	logger   *Logger
	metrics  MetricsCollector
	notifier changelog.Notifier
}

// BuildIndex constructs the index over the given items, replacing any
// previous contents. Keys must be unique.
func (db *DB) BuildIndex(ctx context.Context, items []KeyVector) error {
	start := time.Now()

	if len(items) == 0 {
		err := translateError(ErrEmptyInput)
		db.metrics.RecordBuild(0, time.Since(start), err)
		return err
	}
	keys := make([]model.Key, len(items))
	vectors := make([][]float32, len(items))
	for i, item := range items {
		keys[i] = item.Key
		vectors[i] = item.Vector
	}

	err := translateError(db.coord.Build(ctx, keys, vectors))
	db.metrics.RecordBuild(len(items), time.Since(start), err)
	if err != nil {
		db.logger.Error("index build failed", "keys", len(items), "error", err)
		return err
	}

	stats := db.coord.Stats()
	db.logger.WithKeys(len(items)).WithVersion(uint64(stats.Version)).
		Info("index built", "slots", stats.Slots, "free_slots", stats.FreeSlots)
	db.notifier.Notify(changelog.Record{
		Op:      changelog.OpBuild,
		Version: stats.Version,
		Count:   stats.LiveKeys,
		At:      time.Now(),
	})
	return nil
}

// Lookup resolves a key to its slot. Returns ErrNotFound for keys without a
// live entry.
func (db *DB) Lookup(ctx context.Context, key Key) (model.Slot, error) {
	start := time.Now()
	slot, _, err := db.coord.Lookup(ctx, key)
	err = translateError(err)
	db.metrics.RecordLookup(time.Since(start), err)
	return slot, err
}

// Get returns the vector stored under key. The returned slice is a copy.
func (db *DB) Get(ctx context.Context, key Key) ([]float32, error) {
	start := time.Now()
	_, vec, err := db.coord.Lookup(ctx, key)
	err = translateError(err)
	db.metrics.RecordLookup(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

// Insert adds a new key and vector. Inserting an existing key fails with
// ErrKeyExists; model updates as Delete followed by Insert.
func (db *DB) Insert(ctx context.Context, key Key, vector []float32) error {
	start := time.Now()
	rebuildsBefore := db.coord.Rebuilds()

	err := translateError(db.coord.Insert(ctx, key, vector))
	db.metrics.RecordInsert(time.Since(start), err)
	if err != nil {
		return err
	}

	stats := db.coord.Stats()
	db.notifier.Notify(changelog.Record{
		Op:      changelog.OpInsert,
		Version: stats.Version,
		Keys:    []model.Key{key},
		At:      time.Now(),
	})
	if rebuilds := db.coord.Rebuilds(); rebuilds > rebuildsBefore {
		db.metrics.RecordRebuild(int(stats.LiveKeys), time.Since(start), nil)
		db.logger.WithKeys(int(stats.LiveKeys)).WithVersion(uint64(stats.Version)).
			Info("batched rebuild", "rebuilds", rebuilds)
		db.notifier.Notify(changelog.Record{
			Op:      changelog.OpRebuild,
			Version: stats.Version,
			Count:   stats.LiveKeys,
			At:      time.Now(),
		})
	}
	return nil
}

// Delete removes a key. The slot is tombstoned until the next rebuild or
// compaction.
func (db *DB) Delete(ctx context.Context, key Key) error {
	start := time.Now()
	err := translateError(db.coord.Delete(ctx, key))
	db.metrics.RecordDelete(time.Since(start), err)
	if err != nil {
		return err
	}

	db.notifier.Notify(changelog.Record{
		Op:      changelog.OpDelete,
		Version: db.coord.Stats().Version,
		Keys:    []model.Key{key},
		At:      time.Now(),
	})
	return nil
}

// Rebuild rebuilds the index over all live entries now, folding in pending
// inserts and dropping tombstones. Concurrent calls coalesce.
func (db *DB) Rebuild(ctx context.Context) error {
	start := time.Now()
	err := translateError(db.coord.Rebuild(ctx))
	stats := db.coord.Stats()
	db.metrics.RecordRebuild(int(stats.LiveKeys), time.Since(start), err)
	if err != nil {
		return err
	}

	db.logger.WithKeys(int(stats.LiveKeys)).WithVersion(uint64(stats.Version)).Info("rebuild complete")
	db.notifier.Notify(changelog.Record{
		Op:      changelog.OpRebuild,
		Version: stats.Version,
		Count:   stats.LiveKeys,
		At:      time.Now(),
	})
	return nil
}

// Compact reclaims tombstoned space. Compacting an already-compact database
// is a no-op.
func (db *DB) Compact(ctx context.Context) error {
	before := db.coord.Stats().Version
	err := translateError(db.coord.Compact(ctx))
	if err != nil {
		return err
	}

	stats := db.coord.Stats()
	if stats.Version != before {
		db.logger.WithKeys(int(stats.LiveKeys)).WithVersion(uint64(stats.Version)).Info("compaction complete")
		db.notifier.Notify(changelog.Record{
			Op:      changelog.OpCompact,
			Version: stats.Version,
			Count:   stats.LiveKeys,
			At:      time.Now(),
		})
	}
	return nil
}

// Stats reports current database state.
func (db *DB) Stats() Stats {
	s := db.coord.Stats()
	return Stats{
		Version:        uint64(s.Version),
		LiveKeys:       s.LiveKeys,
		Slots:          s.Slots,
		PendingInserts: s.PendingInserts,
		FreeSlots:      s.FreeSlots,
		Tombstones:     s.Tombstones,
		Rebuilds:       s.Rebuilds,
	}
}

// Capabilities reports what the search backend is actually doing. Callers
// can detect transparent degradation here rather than through errors.
func (db *DB) Capabilities() Capabilities {
	caps := db.coord.Backend().Capabilities()
	return Capabilities{
		Mode:     caps.Mode.String(),
		Degraded: caps.Degraded,
		Seed:     caps.Seed,
	}
}

// Dimension returns the configured vector dimension.
func (db *DB) Dimension() int { return db.coord.Dim() }
