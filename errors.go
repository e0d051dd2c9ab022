package svdb

import (
	"errors"
	"fmt"

	"github.com/crystal-tensor/svdb/engine"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/tinyptr"
	"github.com/crystal-tensor/svdb/vectorstore"
)

var (
	// ErrNotFound is returned when a key has no live entry.
	ErrNotFound = errors.New("key not found")

	// ErrNotBuilt is returned when an operation requires a built index.
	ErrNotBuilt = errors.New("index not built")

	// ErrInvalidK is returned when a search requests a non-positive k.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyInput is returned when BuildIndex is called without items.
	ErrEmptyInput = errors.New("empty input")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrKeyExists indicates an insert of a key that already has a live entry.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrKeyExists struct {
	Key   model.Key
	cause error
}

func (e *ErrKeyExists) Error() string {
	return fmt.Sprintf("key %s already exists", e.Key)
}

func (e *ErrKeyExists) Unwrap() error { return e.cause }

// ErrBuildFailed indicates that index construction could not place every
// key, usually because the load factor leaves too little slack.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrBuildFailed struct {
	cause error
}

func (e *ErrBuildFailed) Error() string {
	return fmt.Sprintf("index construction failed: %v", e.cause)
}

func (e *ErrBuildFailed) Unwrap() error { return e.cause }

// translateError normalizes internal errors to the package's public surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, engine.ErrNotFound) ||
		errors.Is(err, vectorstore.ErrNotFound) ||
		errors.Is(err, vectorstore.ErrTombstoned) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrNotBuilt) {
		return fmt.Errorf("%w: %w", ErrNotBuilt, err)
	}
	if errors.Is(err, tinyptr.ErrEmptyInput) {
		return fmt.Errorf("%w: %w", ErrEmptyInput, err)
	}

	var ke *engine.KeyExistsError
	if errors.As(err, &ke) {
		return &ErrKeyExists{Key: ke.Key, cause: err}
	}
	var dm *vectorstore.DimensionMismatchError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Want, Actual: dm.Got, cause: err}
	}
	var pe *tinyptr.PilotExhaustedError
	if errors.As(err, &pe) {
		return &ErrBuildFailed{cause: err}
	}
	var de *tinyptr.DuplicateKeyError
	if errors.As(err, &de) {
		return &ErrBuildFailed{cause: err}
	}

	return err
}
