package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// storeFactory builds a fresh store for the shared conformance tests.
type storeFactory func(t *testing.T) Store

func testStoreConformance(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("put get remove", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, "a", []byte("one")))
		val, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("one"), val)

		require.NoError(t, s.Put(ctx, "a", []byte("two")))
		val, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("two"), val)

		require.NoError(t, s.Remove(ctx, "a"))
		_, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		// removing again is a no-op
		require.NoError(t, s.Remove(ctx, "a"))
	})

	t.Run("keys and clear", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, "k1", []byte("v1")))
		require.NoError(t, s.Put(ctx, "k2", []byte("v2")))

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

		require.NoError(t, s.Clear(ctx))
		keys, err = s.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestFileStore(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_Durability(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "persist-me", []byte("payload")))
	require.NoError(t, s1.Close())

	// A new instance over the same directory sees the previous write.
	s2, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	val, ok, err := s2.Get(ctx, "persist-me")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), val)
}

func TestRedisStore(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "test:"}, zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"), zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_Durability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s1, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "job:1", []byte(`{"state":"pending"}`)))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	val, ok, err := s2.Get(ctx, "job:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"pending"}`, string(val))
}
