package tinyptr

import (
	"encoding/binary"
	"fmt"

	"github.com/crystal-tensor/svdb/internal/hash"
	"github.com/crystal-tensor/svdb/model"
)

// Index is an immutable minimal-perfect-hash index over a fixed key set.
// It stores one pilot per bucket and no keys. Safe for concurrent reads.
type Index struct {
	n          uint32
	m          uint32
	numBuckets uint32
	seed       uint64
	minimal    bool
	pilots     []uint32
	freeSlots  []model.Slot
	remap      []model.Slot // minimal mode: slot for positions >= n
}

// Lookup maps a key to its slot. The result is only meaningful for keys that
// were part of the build set; other keys map to an arbitrary slot in range.
func (idx *Index) Lookup(key model.Key) model.Slot {
	kh := hash.KeyHash(idx.seed, key[:])
	bucket := hash.BucketOf(kh, idx.numBuckets)
	pos := hash.Position(kh, idx.seed, idx.pilots[bucket], idx.m)
	if idx.minimal && pos >= idx.n {
		return idx.remap[pos-idx.n]
	}
	return model.Slot(pos)
}

// NumKeys returns the size of the build key set.
func (idx *Index) NumKeys() uint32 { return idx.n }

// NumSlots returns the size of the slot range. Equal to NumKeys for minimal
// indexes, larger otherwise.
func (idx *Index) NumSlots() uint32 {
	if idx.minimal {
		return idx.n
	}
	return idx.m
}

// NumBuckets returns the pilot table size.
func (idx *Index) NumBuckets() uint32 { return idx.numBuckets }

// Seed returns the build seed.
func (idx *Index) Seed() uint64 { return idx.seed }

// Minimal reports whether slot remapping is active.
func (idx *Index) Minimal() bool { return idx.minimal }

// FreeSlots returns the unoccupied slots, ascending. Empty for minimal
// indexes. The returned slice is shared; callers must not modify it.
func (idx *Index) FreeSlots() []model.Slot { return idx.freeSlots }

const (
	indexFormatVersion = 1
	indexHeaderSize    = 1 + 1 + 4 + 4 + 4 + 8 + 4 + 4
)

// MarshalBinary encodes the index in a little-endian flat layout.
func (idx *Index) MarshalBinary() ([]byte, error) {
	size := indexHeaderSize + 4*len(idx.pilots) + 4*len(idx.freeSlots) + 4*len(idx.remap)
	buf := make([]byte, 0, size)

	buf = append(buf, indexFormatVersion)
	var flags byte
	if idx.minimal {
		flags |= 1
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, idx.n)
	buf = binary.LittleEndian.AppendUint32(buf, idx.m)
	buf = binary.LittleEndian.AppendUint32(buf, idx.numBuckets)
	buf = binary.LittleEndian.AppendUint64(buf, idx.seed)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(idx.freeSlots)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(idx.remap)))

	for _, p := range idx.pilots {
		buf = binary.LittleEndian.AppendUint32(buf, p)
	}
	for _, s := range idx.freeSlots {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s))
	}
	for _, s := range idx.remap {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s))
	}
	return buf, nil
}

// UnmarshalBinary decodes an index produced by MarshalBinary.
func (idx *Index) UnmarshalBinary(data []byte) error {
	if len(data) < indexHeaderSize {
		return ErrMalformed
	}
	if data[0] != indexFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrMalformed, data[0])
	}
	minimal := data[1]&1 != 0
	n := binary.LittleEndian.Uint32(data[2:])
	m := binary.LittleEndian.Uint32(data[6:])
	numBuckets := binary.LittleEndian.Uint32(data[10:])
	seed := binary.LittleEndian.Uint64(data[14:])
	numFree := binary.LittleEndian.Uint32(data[22:])
	numRemap := binary.LittleEndian.Uint32(data[26:])

	want := indexHeaderSize + 4*(int(numBuckets)+int(numFree)+int(numRemap))
	if len(data) != want {
		return ErrMalformed
	}

	off := indexHeaderSize
	pilots := make([]uint32, numBuckets)
	for i := range pilots {
		pilots[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	freeSlots := make([]model.Slot, numFree)
	for i := range freeSlots {
		freeSlots[i] = model.Slot(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	remap := make([]model.Slot, numRemap)
	for i := range remap {
		remap[i] = model.Slot(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	idx.n = n
	idx.m = m
	idx.numBuckets = numBuckets
	idx.seed = seed
	idx.minimal = minimal
	idx.pilots = pilots
	idx.freeSlots = freeSlots
	idx.remap = remap
	return nil
}

// Pilots exposes the pilot table for inspection and tests. The returned
// slice is shared; callers must not modify it.
func (idx *Index) Pilots() []uint32 { return idx.pilots }
