// Package testutil provides seeded generators for keys and vectors, used by
// tests, benchmarks and examples.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/crystal-tensor/svdb/model"
)

// GenerateRandomVectors returns n vectors of the given dimension with
// components in [-1, 1). The same seed yields the same vectors.
func GenerateRandomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
	}
	return vectors
}

// GenerateKeys returns n distinct non-zero keys derived from their ordinal.
func GenerateKeys(n int) []model.Key {
	keys := make([]model.Key, n)
	for i := range keys {
		keys[i] = KeyOf(uint64(i))
	}
	return keys
}

// KeyOf derives a deterministic key from an ordinal.
func KeyOf(i uint64) model.Key {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	sum := sha256.Sum256(buf[:])
	var k model.Key
	copy(k[:], sum[:])
	return k
}
