package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/crystal-tensor/svdb/model"
)

const storeFormatVersion = 1

// MarshalBinary encodes the store as a little-endian flat layout: header,
// occupancy bitmaps, then one (key, vector) record per occupied slot in
// ascending order. Free slots cost nothing on the wire.
func (s *Store) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	occBytes, err := s.occupied.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("vectorstore: serialize occupancy: %w", err)
	}
	tombBytes, err := s.tombstones.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("vectorstore: serialize tombstones: %w", err)
	}

	recordSize := model.KeySize + 4*s.dim
	size := 1 + 4 + 4 + 4 + len(occBytes) + 4 + len(tombBytes) + int(s.occupied.GetCardinality())*recordSize
	buf := make([]byte, 0, size)

	buf = append(buf, storeFormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.dim))
	buf = binary.LittleEndian.AppendUint32(buf, s.m)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(occBytes)))
	buf = append(buf, occBytes...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tombBytes)))
	buf = append(buf, tombBytes...)

	it := s.occupied.Iterator()
	for it.HasNext() {
		slot := it.Next()
		buf = append(buf, s.keys[slot][:]...)
		vec := s.vectors[int(slot)*s.dim : (int(slot)+1)*s.dim]
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a store produced by MarshalBinary.
func (s *Store) UnmarshalBinary(data []byte) error {
	if len(data) < 13 {
		return ErrMalformed
	}
	if data[0] != storeFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrMalformed, data[0])
	}
	dim := int(binary.LittleEndian.Uint32(data[1:]))
	m := binary.LittleEndian.Uint32(data[5:])
	if dim <= 0 {
		return ErrMalformed
	}
	off := 9

	occupied := roaring.New()
	tombstones := roaring.New()
	for _, bm := range []*roaring.Bitmap{occupied, tombstones} {
		if off+4 > len(data) {
			return ErrMalformed
		}
		bmLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+bmLen > len(data) {
			return ErrMalformed
		}
		if err := bm.UnmarshalBinary(data[off : off+bmLen]); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		off += bmLen
	}

	recordSize := model.KeySize + 4*dim
	if len(data)-off != int(occupied.GetCardinality())*recordSize {
		return ErrMalformed
	}

	keys := make([]model.Key, m)
	vectors := make([]float32, int(m)*dim)
	it := occupied.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if slot >= m {
			return ErrMalformed
		}
		copy(keys[slot][:], data[off:off+model.KeySize])
		off += model.KeySize
		for j := 0; j < dim; j++ {
			vectors[int(slot)*dim+j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dim
	s.m = m
	s.keys = keys
	s.vectors = vectors
	s.occupied = occupied
	s.tombstones = tombstones
	return nil
}
