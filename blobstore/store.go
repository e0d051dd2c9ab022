// Package blobstore abstracts durable storage for snapshot archives.
//
// Snapshots are immutable: a name is written once and never modified, which
// lets every implementation use simple last-writer-wins puts. Implementations
// exist for local disk, memory (tests), S3, and MinIO.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/crystal-tensor/svdb/model"
)

// ErrNotFound is returned when a named blob does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Store persists immutable blobs by name.
type Store interface {
	// Put writes data under name, replacing any existing blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the blob contents.
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns all names with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}

const snapshotPrefix = "snapshot-"

// SnapshotName returns the canonical blob name for a snapshot version. The
// zero-padded hex encoding makes lexicographic and numeric order agree.
func SnapshotName(v model.Version) string {
	return fmt.Sprintf("%s%016x.svdb", snapshotPrefix, uint64(v))
}

// LatestSnapshot returns the name of the highest-version snapshot in the
// store, or ErrNotFound if none exist.
func LatestSnapshot(ctx context.Context, s Store) (string, error) {
	names, err := s.List(ctx, snapshotPrefix)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, name := range names {
		if strings.HasSuffix(name, ".svdb") {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}
