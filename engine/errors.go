package engine

import (
	"errors"
	"fmt"

	"github.com/crystal-tensor/svdb/model"
)

var (
	// ErrNotBuilt is returned by operations that need an index before Build
	// has succeeded.
	ErrNotBuilt = errors.New("engine: index not built")

	// ErrNotFound is returned when a key has no live entry.
	ErrNotFound = errors.New("engine: key not found")
)

// KeyExistsError reports an insert of a key that already has a live entry.
// Updates are modeled as delete followed by insert.
type KeyExistsError struct {
	Key model.Key
}

func (e *KeyExistsError) Error() string {
	return fmt.Sprintf("engine: key %s already exists", e.Key)
}
