package svdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/crystal-tensor/svdb/blobstore"
	"github.com/crystal-tensor/svdb/engine"
)

// SaveTo writes a point-in-time snapshot of the database to w. The snapshot
// captures the index, vectors, tombstones and pending inserts; the change
// log is not included.
func (db *DB) SaveTo(w io.Writer) error {
	return db.coord.SaveTo(w)
}

// SaveToFile writes a snapshot to path. The file is written to a temporary
// sibling and renamed into place, so a crash never leaves a torn snapshot.
func (db *DB) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := db.coord.SaveTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveToStore uploads a snapshot to the blob store under a version-derived
// name and returns that name.
func (db *DB) SaveToStore(ctx context.Context, store blobstore.Store) (string, error) {
	var buf bytes.Buffer
	if err := db.coord.SaveTo(&buf); err != nil {
		return "", err
	}
	name := blobstore.SnapshotName(db.coord.Stats().Version)
	if err := store.Put(ctx, name, buf.Bytes()); err != nil {
		return "", err
	}
	db.logger.Info("snapshot uploaded", "name", name, "bytes", buf.Len())
	return name, nil
}

// Load restores a database from a snapshot written by SaveTo. The builder
// supplies everything the snapshot does not carry: the metric, the backend
// mode and client, logging, metrics and the change log. Index parameters
// (seed, load factor, rebuild policy) come from the snapshot itself.
func (b Builder) Load(r io.Reader) (*DB, error) {
	be, logger, metrics, err := b.newBackend()
	if err != nil {
		return nil, err
	}
	coord, err := engine.LoadFrom(r, be)
	if err != nil {
		return nil, err
	}
	if coord.Dim() != b.dimension {
		return nil, &ErrDimensionMismatch{Expected: b.dimension, Actual: coord.Dim()}
	}
	db, err := assemble(b, coord, logger, metrics)
	if err != nil {
		return nil, err
	}
	stats := db.Stats()
	logger.WithVersion(stats.Version).Info("snapshot loaded",
		"live_keys", stats.LiveKeys, "pending", stats.PendingInserts)
	return db, nil
}

// LoadFile restores a database from a snapshot file.
func (b Builder) LoadFile(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return b.Load(f)
}

// LoadLatest restores a database from the most recent snapshot in the blob
// store.
func (b Builder) LoadLatest(ctx context.Context, store blobstore.Store) (*DB, error) {
	name, err := blobstore.LatestSnapshot(ctx, store)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", name, err)
	}
	return b.Load(bytes.NewReader(data))
}

// Close flushes and closes the change log notifier. The database itself
// holds no other external resources. Close is idempotent.
func (db *DB) Close() error {
	if db.notifier == nil {
		return nil
	}
	return db.notifier.Close()
}
