package model

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the fixed length of a content key in bytes.
const KeySize = 16

// Key is the fixed-length content fingerprint of an ingested item.
// Keys are immutable once assigned; a logical update of a vector is a new
// key version, never an in-place mutation.
type Key [KeySize]byte

// KeyFromBytes copies b into a Key. It fails if b is not exactly KeySize bytes.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromString decodes a hex-encoded key.
func KeyFromString(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid key encoding: %w", err)
	}
	return KeyFromBytes(b)
}

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is the all-zero key.
// The zero key is reserved for unwritten slots.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Slot is a fixed-size storage unit index in [0, m).
// A built index resolves each live key to exactly one slot.
type Slot uint32

// Version identifies an immutable index snapshot. It increases monotonically
// with every successful build, rebuild, or compaction.
type Version uint64

// SlotAssignment maps a resolved slot back to the key that owns it.
// Assignments are produced during index construction and consulted by the
// vector store when verifying lookups.
type SlotAssignment struct {
	Slot Slot
	Key  Key
}
