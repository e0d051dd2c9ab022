package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/tinyptr"
	"github.com/crystal-tensor/svdb/vectorstore"
)

// Snapshot is an immutable view of one index generation. Readers resolve
// against a snapshot without locking; writers publish a new one atomically.
// Index is nil until the first successful Build and after a rebuild of an
// empty key set.
type Snapshot struct {
	Index   *tinyptr.Index
	Store   *vectorstore.Store
	Version model.Version
}

// Stats summarizes coordinator state for observability.
type Stats struct {
	Version        model.Version
	LiveKeys       uint32
	Slots          uint32
	PendingInserts int
	FreeSlots      int
	Tombstones     uint32
	Rebuilds       uint64
}

// mutation records one write that landed while a rebuild was in flight, so
// the fold step can replay it onto the next snapshot. Inserts carry the slot
// the entry was parked in within the pre-rebuild snapshot.
type mutation struct {
	del  bool
	key  model.Key
	slot model.Slot
}

// Coordinator owns the index lifecycle: build, lookup, delta inserts,
// deletes, batched rebuilds, and compaction. Safe for concurrent use; reads
// are lock-free against the current snapshot, and writers wait only on
// delta-set appends, never on an in-progress rebuild.
type Coordinator struct {
	backend backend.Backend
	dim     int
	opts    Options

	current  atomic.Pointer[Snapshot]
	rebuilds atomic.Uint64

	// rebuildMu serializes rebuilds. The index construction itself runs
	// holding only rebuildMu; mu guards the delta state and is taken for
	// short sections to capture a cut and to fold and publish.
	rebuildMu sync.Mutex

	mu         sync.RWMutex
	pending    map[model.Key]model.Slot
	freeSlots  []model.Slot
	threshold  int
	version    model.Version
	rebuilding bool
	replay     []mutation

	group singleflight.Group
}

// NewCoordinator creates a coordinator for vectors of the given dimension.
func NewCoordinator(be backend.Backend, dim int, optFns ...func(*Options)) (*Coordinator, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("engine: dimension must be positive, got %d", dim)
	}
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RebuildFraction <= 0 || opts.RebuildFraction > 1 {
		opts.RebuildFraction = DefaultRebuildFraction
	}
	return &Coordinator{
		backend: be,
		dim:     dim,
		opts:    opts,
		pending: make(map[model.Key]model.Slot),
	}, nil
}

// Backend returns the configured search backend.
func (c *Coordinator) Backend() backend.Backend { return c.backend }

// Dim returns the vector dimension.
func (c *Coordinator) Dim() int { return c.dim }

// Snapshot returns the current immutable snapshot, or nil before Build.
func (c *Coordinator) Snapshot() *Snapshot { return c.current.Load() }

// Build constructs the index over the given keys and vectors, replacing any
// previous state. The rebuild trigger threshold is derived from this key
// count and stays fixed until the next explicit Build.
func (c *Coordinator) Build(ctx context.Context, keys []model.Key, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("engine: %d keys but %d vectors", len(keys), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != c.dim {
			return fmt.Errorf("engine: vector %d: %w", i, &vectorstore.DimensionMismatchError{Want: c.dim, Got: len(v)})
		}
	}

	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, free, err := c.construct(ctx, keys, vectors)
	if err != nil {
		return err
	}

	snap.Version = c.version + 1
	c.threshold = rebuildThreshold(len(keys), c.opts.RebuildFraction)
	c.pending = make(map[model.Key]model.Slot)
	c.freeSlots = free
	c.version = snap.Version
	c.current.Store(snap)
	return nil
}

// construct builds a fresh snapshot from scratch, leaving Version unset.
func (c *Coordinator) construct(ctx context.Context, keys []model.Key, vectors [][]float32) (*Snapshot, []model.Slot, error) {
	idx, assignments, err := tinyptr.Build(ctx, c.backend, keys,
		tinyptr.WithLoadFactor(c.opts.LoadFactor),
		tinyptr.WithSeed(c.opts.Seed),
		tinyptr.WithMinimal(c.opts.Minimal),
	)
	if err != nil {
		return nil, nil, err
	}

	store, err := vectorstore.New(c.dim, idx.NumSlots())
	if err != nil {
		return nil, nil, err
	}
	for i, a := range assignments {
		if err := store.Write(a.Slot, a.Key, vectors[i]); err != nil {
			return nil, nil, err
		}
	}

	// The index shares its free-slot slice; take a copy since inserts
	// consume ours.
	free := make([]model.Slot, len(idx.FreeSlots()))
	copy(free, idx.FreeSlots())

	return &Snapshot{Index: idx, Store: store}, free, nil
}

// Lookup resolves a key to its slot and vector. The returned vector aliases
// store memory and must not be modified.
func (c *Coordinator) Lookup(ctx context.Context, key model.Key) (model.Slot, []float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	snap := c.current.Load()
	if snap == nil {
		return 0, nil, ErrNotBuilt
	}

	if snap.Index != nil {
		slot := snap.Index.Lookup(key)
		k, vec, err := snap.Store.Read(slot)
		if err == nil && k == key {
			return slot, vec, nil
		}
	}

	// Keys inserted since the last rebuild live in parked slots the index
	// does not cover yet.
	c.mu.RLock()
	slot, ok := c.pending[key]
	c.mu.RUnlock()
	if ok {
		k, vec, err := snap.Store.Read(slot)
		if err == nil && k == key {
			return slot, vec, nil
		}
	}
	return 0, nil, ErrNotFound
}

// Insert adds a new key. The entry is parked in a free slot of the current
// snapshot and becomes index-resolvable after the next rebuild; Lookup and
// search see it immediately. Reaching the pending threshold, or running out
// of free slots, triggers a synchronous rebuild; an insert that lands while
// another writer's rebuild is in flight appends its delta and returns.
func (c *Coordinator) Insert(ctx context.Context, key model.Key, vec []float32) error {
	if key.IsZero() {
		return fmt.Errorf("engine: zero key is reserved")
	}
	if len(vec) != c.dim {
		return &vectorstore.DimensionMismatchError{Want: c.dim, Got: len(vec)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	snap := c.current.Load()
	if snap == nil {
		c.mu.Unlock()
		return ErrNotBuilt
	}
	if _, _, err := c.resolveLocked(snap, key); err == nil {
		c.mu.Unlock()
		return &KeyExistsError{Key: key}
	}

	if len(c.freeSlots) == 0 {
		// No room to park: fold the new entry into an immediate rebuild.
		c.mu.Unlock()
		return c.rebuild(ctx, []model.Key{key}, [][]float32{vec})
	}

	slot := c.freeSlots[0]
	if err := snap.Store.Write(slot, key, vec); err != nil {
		c.mu.Unlock()
		return err
	}
	c.freeSlots = c.freeSlots[1:]
	c.pending[key] = slot
	if c.rebuilding {
		c.replay = append(c.replay, mutation{key: key, slot: slot})
	}
	trigger := len(c.pending) >= c.threshold && !c.rebuilding
	c.mu.Unlock()

	if trigger {
		return c.rebuild(ctx, nil, nil)
	}
	return nil
}

// Delete tombstones a key. The space is reclaimed by Compact or the next
// rebuild.
func (c *Coordinator) Delete(ctx context.Context, key model.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.current.Load()
	if snap == nil {
		return ErrNotBuilt
	}
	slot, _, err := c.resolveLocked(snap, key)
	if err != nil {
		return err
	}
	if err := snap.Store.Delete(slot); err != nil {
		return err
	}
	delete(c.pending, key)
	if c.rebuilding {
		c.replay = append(c.replay, mutation{del: true, key: key})
	}
	return nil
}

// resolveLocked finds the live slot of a key under c.mu.
func (c *Coordinator) resolveLocked(snap *Snapshot, key model.Key) (model.Slot, []float32, error) {
	return resolveIn(snap, c.pending, key)
}

func resolveIn(snap *Snapshot, pending map[model.Key]model.Slot, key model.Key) (model.Slot, []float32, error) {
	if snap.Index != nil {
		slot := snap.Index.Lookup(key)
		k, vec, err := snap.Store.Read(slot)
		if err == nil && k == key {
			return slot, vec, nil
		}
	}
	if slot, ok := pending[key]; ok {
		k, vec, err := snap.Store.Read(slot)
		if err == nil && k == key {
			return slot, vec, nil
		}
	}
	return 0, nil, ErrNotFound
}

// Rebuild rebuilds the index over all live entries now. Concurrent calls
// coalesce into a single rebuild.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	_, err, _ := c.group.Do("rebuild", func() (any, error) {
		return nil, c.rebuild(ctx, nil, nil)
	})
	return err
}

// Compact reclaims tombstoned space by rebuilding over the live set. With no
// tombstones and no pending delta it is a no-op, so compacting twice is the
// same as compacting once.
func (c *Coordinator) Compact(ctx context.Context) error {
	_, err, _ := c.group.Do("compact", func() (any, error) {
		c.mu.RLock()
		snap := c.current.Load()
		if snap == nil {
			c.mu.RUnlock()
			return nil, ErrNotBuilt
		}
		clean := snap.Store.Tombstones() == 0 && len(c.pending) == 0
		c.mu.RUnlock()
		if clean {
			return nil, nil
		}
		return nil, c.rebuild(ctx, nil, nil)
	})
	return err
}

// rebuild rebuilds the index over the live entries plus any extras and swaps
// the snapshot. The delta lock is held only to capture a consistent cut and
// to fold the writes that landed while the build ran; the index construction
// itself runs unlocked, so concurrent writers keep appending to the delta
// set and readers keep resolving against the old snapshot.
func (c *Coordinator) rebuild(ctx context.Context, extraKeys []model.Key, extraVecs [][]float32) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	for {
		c.mu.Lock()
		snap := c.current.Load()
		if snap == nil {
			c.mu.Unlock()
			return ErrNotBuilt
		}
		for _, key := range extraKeys {
			if _, _, err := c.resolveLocked(snap, key); err == nil {
				c.mu.Unlock()
				return &KeyExistsError{Key: key}
			}
		}
		n := int(snap.Store.Live()) + len(extraKeys)
		keys := make([]model.Key, 0, n)
		vectors := make([][]float32, 0, n)
		snap.Store.ForEachLive(func(_ model.Slot, key model.Key, vec []float32) bool {
			keys = append(keys, key)
			vectors = append(vectors, vec)
			return true
		})
		keys = append(keys, extraKeys...)
		vectors = append(vectors, extraVecs...)
		c.rebuilding = true
		c.replay = nil
		c.mu.Unlock()

		next, free, err := c.constructNext(ctx, keys, vectors)
		if err != nil {
			c.mu.Lock()
			c.rebuilding = false
			c.replay = nil
			c.mu.Unlock()
			return err
		}

		extraKeys, extraVecs, err = c.fold(snap, next, free)
		if err != nil {
			return err
		}
		if len(extraKeys) == 0 {
			return nil
		}
		// Mid-rebuild inserts that found no free slot in the new snapshot;
		// run another round over the just-published generation.
	}
}

func (c *Coordinator) constructNext(ctx context.Context, keys []model.Key, vectors [][]float32) (*Snapshot, []model.Slot, error) {
	if len(keys) == 0 {
		store, err := vectorstore.New(c.dim, 0)
		if err != nil {
			return nil, nil, err
		}
		return &Snapshot{Store: store}, nil, nil
	}
	return c.construct(ctx, keys, vectors)
}

// fold replays the writes that arrived during an off-lock rebuild onto the
// next snapshot and publishes it. Mid-rebuild inserts are re-parked into the
// new snapshot's free slots; entries that do not fit are returned so the
// caller can fold them into another rebuild round.
func (c *Coordinator) fold(prev, next *Snapshot, free []model.Slot) ([]model.Key, [][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	replay := c.replay
	c.rebuilding = false
	c.replay = nil

	pending := make(map[model.Key]model.Slot)
	var leftKeys []model.Key
	var leftVecs [][]float32
	for _, m := range replay {
		if m.del {
			if slot, _, err := resolveIn(next, pending, m.key); err == nil {
				if err := next.Store.Delete(slot); err != nil {
					return nil, nil, err
				}
				delete(pending, m.key)
				continue
			}
			// The insert may still be queued for the next round.
			for i, k := range leftKeys {
				if k == m.key {
					leftKeys = append(leftKeys[:i], leftKeys[i+1:]...)
					leftVecs = append(leftVecs[:i], leftVecs[i+1:]...)
					break
				}
			}
			continue
		}

		key, vec, err := prev.Store.Read(m.slot)
		if err != nil || key != m.key {
			// Deleted again before the fold; the delete record covers it.
			continue
		}
		if len(free) == 0 {
			leftKeys = append(leftKeys, m.key)
			leftVecs = append(leftVecs, vec)
			continue
		}
		slot := free[0]
		if err := next.Store.Write(slot, m.key, vec); err != nil {
			return nil, nil, err
		}
		free = free[1:]
		pending[m.key] = slot
	}

	next.Version = c.version + 1
	c.pending = pending
	c.freeSlots = free
	c.version = next.Version
	c.current.Store(next)
	c.rebuilds.Add(1)
	return leftKeys, leftVecs, nil
}

// Rebuilds returns how many rebuilds have run since Build.
func (c *Coordinator) Rebuilds() uint64 { return c.rebuilds.Load() }

// Stats reports current engine state.
func (c *Coordinator) Stats() Stats {
	snap := c.current.Load()
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		PendingInserts: len(c.pending),
		FreeSlots:      len(c.freeSlots),
		Rebuilds:       c.rebuilds.Load(),
		Version:        c.version,
	}
	if snap != nil {
		s.LiveKeys = snap.Store.Live()
		s.Slots = snap.Store.NumSlots()
		s.Tombstones = snap.Store.Tombstones()
	}
	return s
}

func rebuildThreshold(baseN int, fraction float64) int {
	t := int(math.Ceil(float64(baseN) * fraction))
	if t < 1 {
		t = 1
	}
	return t
}
