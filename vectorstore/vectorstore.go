// Package vectorstore provides fixed-capacity slot storage for keys and
// their embedding vectors.
//
// A store holds m slots. Each slot is either free, live (key + vector), or
// tombstoned (deleted, space not yet reclaimed). Vector data of a live slot
// is never mutated in place, so read paths may hold returned slices across
// concurrent writes to other slots.
package vectorstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/crystal-tensor/svdb/model"
)

var (
	// ErrNotFound is returned when a slot holds no entry.
	ErrNotFound = errors.New("vectorstore: slot not found")

	// ErrTombstoned is returned when a slot's entry was deleted but the space
	// has not been reclaimed yet.
	ErrTombstoned = errors.New("vectorstore: slot tombstoned")

	// ErrMalformed is returned when unmarshaling rejects the input bytes.
	ErrMalformed = errors.New("vectorstore: malformed store data")
)

// SlotOccupiedError reports a write into a slot that already holds a live
// entry.
type SlotOccupiedError struct {
	Slot model.Slot
}

func (e *SlotOccupiedError) Error() string {
	return fmt.Sprintf("vectorstore: slot %d already occupied", e.Slot)
}

// DimensionMismatchError reports a vector whose length does not match the
// store dimension.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vectorstore: vector dimension %d, store expects %d", e.Got, e.Want)
}

// SlotRangeError reports a slot outside the store capacity.
type SlotRangeError struct {
	Slot model.Slot
	M    uint32
}

func (e *SlotRangeError) Error() string {
	return fmt.Sprintf("vectorstore: slot %d out of range [0, %d)", e.Slot, e.M)
}

// Store is a fixed-capacity slot store. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	dim        int
	m          uint32
	keys       []model.Key
	vectors    []float32 // columnar, m*dim
	occupied   *roaring.Bitmap
	tombstones *roaring.Bitmap
}

// New creates an empty store with m slots of the given vector dimension.
func New(dim int, m uint32) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorstore: dimension must be positive, got %d", dim)
	}
	return &Store{
		dim:        dim,
		m:          m,
		keys:       make([]model.Key, m),
		vectors:    make([]float32, int(m)*dim),
		occupied:   roaring.New(),
		tombstones: roaring.New(),
	}, nil
}

// Dim returns the vector dimension.
func (s *Store) Dim() int { return s.dim }

// NumSlots returns the slot capacity.
func (s *Store) NumSlots() uint32 { return s.m }

// Live returns the number of live entries.
func (s *Store) Live() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(s.occupied.GetCardinality() - s.tombstones.GetCardinality())
}

// Tombstones returns the number of deleted, unreclaimed entries.
func (s *Store) Tombstones() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(s.tombstones.GetCardinality())
}

// Write stores key and vec into a free slot. Writing into a tombstoned slot
// reclaims it; writing into a live slot fails with SlotOccupiedError.
func (s *Store) Write(slot model.Slot, key model.Key, vec []float32) error {
	if uint32(slot) >= s.m {
		return &SlotRangeError{Slot: slot, M: s.m}
	}
	if len(vec) != s.dim {
		return &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}
	if key.IsZero() {
		return errors.New("vectorstore: zero key is reserved")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.occupied.Contains(uint32(slot)) && !s.tombstones.Contains(uint32(slot)) {
		return &SlotOccupiedError{Slot: slot}
	}
	s.keys[slot] = key
	copy(s.vectors[int(slot)*s.dim:(int(slot)+1)*s.dim], vec)
	s.occupied.Add(uint32(slot))
	s.tombstones.Remove(uint32(slot))
	return nil
}

// Read returns the key and vector stored in slot. The vector slice aliases
// store memory and must not be modified.
func (s *Store) Read(slot model.Slot) (model.Key, []float32, error) {
	if uint32(slot) >= s.m {
		return model.Key{}, nil, &SlotRangeError{Slot: slot, M: s.m}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.occupied.Contains(uint32(slot)) {
		return model.Key{}, nil, ErrNotFound
	}
	if s.tombstones.Contains(uint32(slot)) {
		return model.Key{}, nil, ErrTombstoned
	}
	return s.keys[slot], s.vectors[int(slot)*s.dim : (int(slot)+1)*s.dim], nil
}

// KeyAt returns the key of a live slot.
func (s *Store) KeyAt(slot model.Slot) (model.Key, bool) {
	k, _, err := s.Read(slot)
	if err != nil {
		return model.Key{}, false
	}
	return k, true
}

// Delete tombstones the entry in slot. Deleting a free slot returns
// ErrNotFound; deleting twice returns ErrTombstoned.
func (s *Store) Delete(slot model.Slot) error {
	if uint32(slot) >= s.m {
		return &SlotRangeError{Slot: slot, M: s.m}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.occupied.Contains(uint32(slot)) {
		return ErrNotFound
	}
	if s.tombstones.Contains(uint32(slot)) {
		return ErrTombstoned
	}
	s.tombstones.Add(uint32(slot))
	return nil
}

// LiveSlots returns all live slots in ascending order.
func (s *Store) LiveSlots() []model.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := roaring.AndNot(s.occupied, s.tombstones)
	out := make([]model.Slot, 0, live.GetCardinality())
	it := live.Iterator()
	for it.HasNext() {
		out = append(out, model.Slot(it.Next()))
	}
	return out
}

// ForEachLive calls fn for every live entry in ascending slot order until fn
// returns false. The vector slice aliases store memory.
func (s *Store) ForEachLive(fn func(slot model.Slot, key model.Key, vec []float32) bool) {
	s.mu.RLock()
	live := roaring.AndNot(s.occupied, s.tombstones)
	s.mu.RUnlock()

	it := live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if !fn(model.Slot(slot), s.keys[slot], s.vectors[int(slot)*s.dim:(int(slot)+1)*s.dim]) {
			return
		}
	}
}

// Compact returns a dense copy of the store with tombstones reclaimed: live
// entries keep their relative order but are renumbered to 0..live-1. The live
// keys are returned in the new slot order. When the store holds no
// tombstones it is returned unchanged.
func (s *Store) Compact() (*Store, []model.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := roaring.AndNot(s.occupied, s.tombstones)
	liveCount := uint32(live.GetCardinality())

	if s.tombstones.IsEmpty() {
		keys := make([]model.Key, 0, liveCount)
		it := live.Iterator()
		for it.HasNext() {
			keys = append(keys, s.keys[it.Next()])
		}
		return s, keys, nil
	}

	dense, err := New(s.dim, liveCount)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]model.Key, 0, liveCount)
	next := model.Slot(0)
	it := live.Iterator()
	for it.HasNext() {
		old := it.Next()
		dense.keys[next] = s.keys[old]
		copy(dense.vectors[int(next)*s.dim:(int(next)+1)*s.dim], s.vectors[int(old)*s.dim:(int(old)+1)*s.dim])
		dense.occupied.Add(uint32(next))
		keys = append(keys, s.keys[old])
		next++
	}
	return dense, keys, nil
}
