package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(zap.NewNop())
	err := store.AddDocuments(context.Background(), []Document{
		{ID: "go", Content: "Go is a statically typed compiled language"},
		{ID: "py", Content: "Python is a dynamically typed interpreted language"},
		{ID: "zig", Content: "Zig focuses on manual memory management"},
	})
	require.NoError(t, err)
	return store
}

func TestAddAndCount(t *testing.T) {
	store := seededStore(t)

	count, err := store.DocumentCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSearchRanksByOverlap(t *testing.T) {
	store := seededStore(t)

	results, err := store.Search(context.Background(), "statically typed language", 10)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "go", results[0].Document.ID)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	store := seededStore(t)

	results, err := store.Search(context.Background(), "language typed memory", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchNoMatches(t *testing.T) {
	store := seededStore(t)

	results, err := store.Search(context.Background(), "quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchAssignsGeneratedIDs(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.AddDocuments(context.Background(), []Document{{Content: "anonymous doc"}}))

	results, err := store.Search(context.Background(), "anonymous", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Document.ID)
}
