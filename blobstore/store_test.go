package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-tensor/svdb/model"
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put get roundtrip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("hello")))

		data, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("one")))
		require.NoError(t, s.Put(ctx, "a", []byte("two")))

		data, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), data)
	})

	t.Run("list sorted by prefix", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"snap-2", "snap-1", "other"} {
			require.NoError(t, s.Put(ctx, name, []byte(name)))
		}

		names, err := s.List(ctx, "snap-")
		require.NoError(t, err)
		assert.Equal(t, []string{"snap-1", "snap-2"}, names)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("x")))
		require.NoError(t, s.Delete(ctx, "a"))
		require.NoError(t, s.Delete(ctx, "a"))

		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestLocalStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStoreGetIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "a", []byte("abc")))

	data, err := s.Get(ctx, "a")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestSnapshotName(t *testing.T) {
	assert.Equal(t, "snapshot-0000000000000001.svdb", SnapshotName(1))
	assert.Equal(t, "snapshot-00000000000000ff.svdb", SnapshotName(255))
}

func TestLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := LatestSnapshot(ctx, s)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, v := range []model.Version{3, 17, 9} {
		require.NoError(t, s.Put(ctx, SnapshotName(v), []byte{byte(v)}))
	}
	require.NoError(t, s.Put(ctx, "changes.log", []byte("x")))

	name, err := LatestSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SnapshotName(17), name)
}
