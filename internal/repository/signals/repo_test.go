package signals

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensquery/lensquery/internal/db/sqlite"
	"github.com/lensquery/lensquery/internal/domain"
	imgrepo "github.com/lensquery/lensquery/internal/repository/images"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), conn))
	return conn
}

func insertImage(t *testing.T, conn *sql.DB, filename string) int64 {
	t.Helper()
	id, err := imgrepo.New(conn).Insert(context.Background(), &domain.Image{Filename: filename})
	require.NoError(t, err)
	return id
}

func TestReplaceHashes(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	id := insertImage(t, conn, "a.jpg")

	first := []domain.HashRecord{
		{ImageID: id, TileIndex: domain.WholeImageTile, GridSize: 0, Hash: "ffffffffffffffff"},
		{ImageID: id, TileIndex: 0, GridSize: 3, Hash: "0000000000000000"},
	}
	require.NoError(t, repo.ReplaceHashes(ctx, id, first))

	second := []domain.HashRecord{
		{ImageID: id, TileIndex: domain.WholeImageTile, GridSize: 0, Hash: "aaaaaaaaaaaaaaaa"},
	}
	require.NoError(t, repo.ReplaceHashes(ctx, id, second))

	got, err := repo.HashesForImages(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got[id], 1, "replace must drop prior rows")
	assert.Equal(t, "aaaaaaaaaaaaaaaa", got[id][0].Hash)
	assert.Equal(t, domain.WholeImageTile, got[id][0].TileIndex)
}

func TestHashesForImagesEmpty(t *testing.T) {
	repo := New(newTestDB(t))
	got, err := repo.HashesForImages(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAllHashesGroups(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	a := insertImage(t, conn, "a.jpg")
	b := insertImage(t, conn, "b.jpg")

	require.NoError(t, repo.ReplaceHashes(ctx, a, []domain.HashRecord{
		{ImageID: a, TileIndex: domain.WholeImageTile, Hash: "1111111111111111"},
	}))
	require.NoError(t, repo.ReplaceHashes(ctx, b, []domain.HashRecord{
		{ImageID: b, TileIndex: domain.WholeImageTile, Hash: "2222222222222222"},
		{ImageID: b, TileIndex: 1, GridSize: 4, Stride: 50, Hash: "3333333333333333"},
	}))

	all, err := repo.AllHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, all[a], 1)
	assert.Len(t, all[b], 2)
}

func TestReplaceColorsRoundTrip(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	id := insertImage(t, conn, "a.jpg")

	hist := make([]float64, 128)
	hist[0] = 0.25
	hist[64] = 0.75
	require.NoError(t, repo.ReplaceColors(ctx, id, []domain.ColorRecord{
		{ImageID: id, Variant: "global", BinCount: 128, Histogram: hist},
		{ImageID: id, Variant: "center_0.8", BinCount: 128, Histogram: hist},
	}))

	got, err := repo.ColorsForImages(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got[id], 2)
	assert.Equal(t, 0.75, got[id][0].Histogram[64])

	all, err := repo.AllColors(ctx)
	require.NoError(t, err)
	assert.Len(t, all[id], 2)
}

func TestUpsertEmbeddingAndCorpus(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	id := insertImage(t, conn, "a.jpg")

	require.NoError(t, repo.UpsertEmbedding(ctx, domain.EmbeddingRecord{
		ImageID: id, ModelID: "clip", Dimension: 3, Vector: []float32{1, 0, 0},
	}))
	// Second write for the same (image, model) replaces the vector.
	require.NoError(t, repo.UpsertEmbedding(ctx, domain.EmbeddingRecord{
		ImageID: id, ModelID: "clip", Dimension: 3, Vector: []float32{0, 1, 0},
	}))

	corpus, err := repo.CorpusByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, corpus, 1)
	assert.Equal(t, []float32{0, 1, 0}, corpus[0].Vector)
	assert.Equal(t, "a.jpg", corpus[0].Filename)

	other, err := repo.CorpusByModel(ctx, "other-model")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMissingEmbeddingImageIDs(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	a := insertImage(t, conn, "a.jpg")
	b := insertImage(t, conn, "b.jpg")

	require.NoError(t, repo.UpsertEmbedding(ctx, domain.EmbeddingRecord{
		ImageID: a, ModelID: "clip", Dimension: 1, Vector: []float32{1},
	}))

	missing, err := repo.MissingEmbeddingImageIDs(ctx, "clip")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, missing)
}

func TestRegionsRoundTrip(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	id := insertImage(t, conn, "a.jpg")

	regs := []domain.RegionRecord{
		{ImageID: id, GridSize: 7, Overlap: 0.5, Rect: domain.Rect{X: 0, Y: 0, W: 100, H: 100}, Vector: []float32{1, 0}},
		{ImageID: id, GridSize: 7, Overlap: 0.5, Rect: domain.Rect{X: 50, Y: 0, W: 100, H: 100}, Vector: []float32{0, 1}},
	}
	require.NoError(t, repo.ReplaceRegions(ctx, id, "clip", regs))

	got, err := repo.RegionsByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 7, got[0].GridSize)
	assert.Equal(t, 0.5, got[0].Overlap)
	assert.Equal(t, 50, got[1].Rect.X)
	assert.Equal(t, 2, got[0].Dimension)

	require.NoError(t, repo.ClearRegions(ctx, "clip"))
	got, err = repo.RegionsByModel(ctx, "clip")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCascadeOnImageDelete(t *testing.T) {
	conn := newTestDB(t)
	repo := New(conn)
	ctx := context.Background()
	id := insertImage(t, conn, "a.jpg")

	require.NoError(t, repo.ReplaceHashes(ctx, id, []domain.HashRecord{
		{ImageID: id, TileIndex: domain.WholeImageTile, Hash: "1111111111111111"},
	}))
	require.NoError(t, repo.UpsertEmbedding(ctx, domain.EmbeddingRecord{
		ImageID: id, ModelID: "clip", Dimension: 1, Vector: []float32{1},
	}))

	require.NoError(t, imgrepo.New(conn).Delete(ctx, id))

	all, err := repo.AllHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	corpus, err := repo.CorpusByModel(ctx, "clip")
	require.NoError(t, err)
	assert.Empty(t, corpus)
}
