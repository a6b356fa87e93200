// Package index rebuilds stored search signals over the whole library,
// used after signal engine changes or to backfill failed extractions.
package index

import (
	"context"

	"github.com/lensquery/lensquery/internal/domain"
)

// ImageReader enumerates and loads image rows (ISP).
type ImageReader interface {
	IDs(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, id int64) (domain.Image, error)
}

// BlobReader loads the original bytes of a stored image (ISP).
type BlobReader interface {
	Read(filename string) ([]byte, error)
}

// SignalStore reads and writes signal rows (ISP).
type SignalStore interface {
	ReplaceHashes(ctx context.Context, imageID int64, hashes []domain.HashRecord) error
	ReplaceColors(ctx context.Context, imageID int64, colors []domain.ColorRecord) error
	UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error
	ReplaceRegions(ctx context.Context, imageID int64, model string, regions []domain.RegionRecord) error
	MissingEmbeddingImageIDs(ctx context.Context, model string) ([]int64, error)
	ClearRegions(ctx context.Context, model string) error
}

// RegionEmbedder vectorizes image sub-regions for crop recovery.
type RegionEmbedder interface {
	EmbedRegions(ctx context.Context, imageID int64, image []byte) ([]domain.RegionRecord, error)
	ModelID() string
}

// CorpusInvalidator drops cached corpus snapshots after writes.
type CorpusInvalidator interface {
	Invalidate()
}
