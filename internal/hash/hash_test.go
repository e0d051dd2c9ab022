package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum64SeededDeterministic(t *testing.T) {
	key := []byte("0123456789abcdef")

	a := Sum64Seeded(42, key)
	b := Sum64Seeded(42, key)
	assert.Equal(t, a, b)

	c := Sum64Seeded(43, key)
	assert.NotEqual(t, a, c, "different seeds must yield different hashes")
}

func TestBucketOfRange(t *testing.T) {
	const numBuckets = 13
	for i := 0; i < 1000; i++ {
		h := Mix64(uint64(i))
		b := BucketOf(h, numBuckets)
		require.Less(t, b, uint32(numBuckets))
	}
}

func TestPositionPilotSensitivity(t *testing.T) {
	const m = 97
	keyHash := Sum64Seeded(7, []byte("some-key-fingerprint"))

	seen := make(map[uint32]int)
	for p := uint32(0); p < 64; p++ {
		pos := Position(keyHash, 7, p, m)
		require.Less(t, pos, uint32(m))
		seen[pos]++
	}
	// 64 pilots over 97 positions should hit a healthy spread.
	assert.Greater(t, len(seen), 32)
}

func TestCRC32C(t *testing.T) {
	data := []byte("svdb snapshot section")
	sum := CRC32C(data)
	assert.NotZero(t, sum)

	h := NewCRC32C()
	_, err := h.Write(data)
	require.NoError(t, err)
	assert.Equal(t, sum, h.Sum32())
}
