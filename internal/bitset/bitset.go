// Package bitset implements a plain fixed-size bitset.
//
// It tracks slot occupancy during index construction. Construction is
// single-goroutine by design (buckets are placed sequentially in
// largest-first order), so no atomics are needed; the word slice keeps the
// whole occupancy set in cache for the hot pilot-validation loop.
package bitset

import "math/bits"

// BitSet is a fixed-size set of bits indexed from 0.
type BitSet struct {
	words []uint64
	size  uint32
}

// New creates a BitSet holding size bits, all clear.
func New(size uint32) *BitSet {
	return &BitSet{
		words: make([]uint64, (int(size)+63)/64),
		size:  size,
	}
}

// Size returns the number of bits the set holds.
func (b *BitSet) Size() uint32 { return b.size }

// Test reports whether bit i is set. Out-of-range indices report false.
func (b *BitSet) Test(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// Set sets bit i.
func (b *BitSet) Set(i uint32) {
	if i >= b.size {
		return
	}
	b.words[i>>6] |= 1 << (i & 63)
}

// Clear clears bit i.
func (b *BitSet) Clear(i uint32) {
	if i >= b.size {
		return
	}
	b.words[i>>6] &^= 1 << (i & 63)
}

// Count returns the number of set bits.
func (b *BitSet) Count() uint32 {
	var n int
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return uint32(n)
}

// Reset clears every bit without reallocating.
func (b *BitSet) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
}
