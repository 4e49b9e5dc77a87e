package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := openDatabase("sqlite", ":memory:")
	require.NoError(t, err)

	store, err := NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.Create(ctx, "alice", "Episode One", "https://youtu.be/abc123def45", KindVideo)
	require.NoError(t, err)
	assert.NotEmpty(t, src.ID)
	assert.Equal(t, "Episode One", src.Title)

	fetched, err := store.Get(ctx, "alice", src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.URL, fetched.URL)
	assert.Equal(t, KindVideo, fetched.Kind)
}

func TestCreateRejectsDuplicateURLPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	url := "https://youtu.be/abc123def45"
	_, err := store.Create(ctx, "alice", "First", url, KindVideo)
	require.NoError(t, err)

	_, err = store.Create(ctx, "alice", "Again", url, KindVideo)
	assert.ErrorIs(t, err, ErrDuplicateSource)

	rows, err := store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// A different user may ingest the same URL.
	_, err = store.Create(ctx, "bob", "Bob's copy", url, KindVideo)
	assert.NoError(t, err)
}

func TestCreateDefaultsEmptyTitle(t *testing.T) {
	store := newTestStore(t)

	src, err := store.Create(context.Background(), "alice", "   ", "https://youtu.be/xyz987uvw65", KindVideo)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", src.Title)
}

func TestGetScopesToUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.Create(ctx, "alice", "Private", "https://youtu.be/abc123def45", KindVideo)
	require.NoError(t, err)

	_, err = store.Get(ctx, "bob", src.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTitles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "alice", "First Show", "https://youtu.be/aaaaaaaaaaa", KindVideo)
	require.NoError(t, err)
	second, err := store.Create(ctx, "alice", "Second Show", "https://youtu.be/bbbbbbbbbbb", KindVideo)
	require.NoError(t, err)

	titles, err := store.GetTitles(ctx, "alice", []string{first.ID, second.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		first.ID:  "First Show",
		second.ID: "Second Show",
	}, titles)

	empty, err := store.GetTitles(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.Create(ctx, "alice", "Doomed", "https://youtu.be/abc123def45", KindVideo)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "alice", src.ID))
	_, err = store.Get(ctx, "alice", src.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "alice", src.ID), ErrNotFound)
}
