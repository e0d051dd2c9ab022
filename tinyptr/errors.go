package tinyptr

import (
	"errors"
	"fmt"

	"github.com/crystal-tensor/svdb/model"
)

var (
	// ErrEmptyInput is returned when Build is called with no keys.
	ErrEmptyInput = errors.New("tinyptr: empty key set")

	// ErrMalformed is returned when unmarshaling rejects the input bytes.
	ErrMalformed = errors.New("tinyptr: malformed index data")
)

// DuplicateKeyError reports a key that appears more than once in the build
// input. A perfect hash over a multiset is impossible, so Build refuses it.
type DuplicateKeyError struct {
	Key model.Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("tinyptr: duplicate key %s in build input", e.Key)
}

// PilotExhaustedError reports a bucket for which no pilot value placed all
// keys into free slots, even after the pilot domain was expanded to its
// limit. It usually means the load factor is too aggressive for the key set.
type PilotExhaustedError struct {
	Bucket   uint32
	PilotMax uint64
}

func (e *PilotExhaustedError) Error() string {
	return fmt.Sprintf("tinyptr: no pilot found for bucket %d within domain %d", e.Bucket, e.PilotMax)
}
