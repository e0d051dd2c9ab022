package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Mix64 applies the splitmix64 finalizer. It is used to decorrelate the pilot
// value from the key hash before reducing to a table position.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Sum64Seeded computes a seeded xxHash of b. xxhash/v2 exposes no seeded
// one-shot API, so the seed is fed through the streaming digest first.
func Sum64Seeded(seed uint64, b []byte) uint64 {
	var sb [8]byte
	binary.LittleEndian.PutUint64(sb[:], seed)
	d := xxhash.New()
	_, _ = d.Write(sb[:])
	_, _ = d.Write(b)
	return d.Sum64()
}

// KeyHash returns the seeded hash of a key. Bucket assignment and every
// displacement position are derived from this single value, so it is computed
// once per key during construction.
func KeyHash(seed uint64, key []byte) uint64 {
	return Sum64Seeded(seed, key)
}

// BucketOf reduces a key hash to a bucket id in [0, numBuckets).
// The high bits feed the reduction so that Position, which consumes the full
// hash, stays independent of the bucket assignment.
func BucketOf(keyHash uint64, numBuckets uint32) uint32 {
	return uint32((keyHash >> 32) % uint64(numBuckets))
}

// Position derives the candidate table position for a key under a given pilot:
// the displacement hash of the construction algorithm. Distinct pilots yield
// (effectively) independent placements of the same key.
func Position(keyHash, seed uint64, pilot uint32, m uint32) uint32 {
	h := Mix64(keyHash ^ Mix64(seed+uint64(pilot)))
	return uint32(h % uint64(m))
}
