package images

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensquery/lensquery/internal/db/sqlite"
	"github.com/lensquery/lensquery/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), conn))
	return conn
}

func sampleImage(filename string) *domain.Image {
	return &domain.Image{
		Filename:     filename,
		OriginalName: "holiday.jpg",
		StoragePath:  "/data/" + filename,
		Size:         1234,
		MimeType:     "image/jpeg",
		Width:        800,
		Height:       600,
		Title:        "Holiday",
		Description:  "Beach at dusk",
		Tags:         "beach,sunset",
		ContentHash:  "abc123",
		PHash:        "p:fedcba9876543210",
	}
}

func TestPHashes(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	a := sampleImage("a.jpg")
	id, err := repo.Insert(ctx, a)
	require.NoError(t, err)

	b := sampleImage("b.jpg")
	b.ContentHash = "def456"
	b.PHash = ""
	_, err = repo.Insert(ctx, b)
	require.NoError(t, err)

	got, err := repo.PHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{id: "p:fedcba9876543210"}, got)
}

func TestInsertGet(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleImage("a.jpg"))
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", got.Filename)
	assert.Equal(t, "Holiday", got.Title)
	assert.Equal(t, 800, got.Width)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	repo := New(newTestDB(t))
	_, err := repo.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByContentHash(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Insert(ctx, sampleImage("a.jpg"))
	require.NoError(t, err)

	got, err := repo.FindByContentHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", got.Filename)

	_, err = repo.FindByContentHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPagination(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := repo.Insert(ctx, sampleImage(name))
		require.NoError(t, err)
	}

	page, total, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c.jpg", page[0].Filename, "newest first")

	page, _, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a.jpg", page[0].Filename)

	// Out-of-range values are clamped rather than rejected.
	page, _, err = repo.List(ctx, -5, -5)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestUpdateMeta(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleImage("a.jpg"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateMeta(ctx, id, "New title", "New description", "tag1,tag2"))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "tag1,tag2", got.Tags)

	assert.ErrorIs(t, repo.UpdateMeta(ctx, 999, "x", "y", "z"), domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleImage("a.jpg"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, id), domain.ErrNotFound)
}

func TestIDs(t *testing.T) {
	repo := New(newTestDB(t))
	ctx := context.Background()

	a, err := repo.Insert(ctx, sampleImage("a.jpg"))
	require.NoError(t, err)
	b, err := repo.Insert(ctx, sampleImage("b.jpg"))
	require.NoError(t, err)

	ids, err := repo.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, ids)
}
