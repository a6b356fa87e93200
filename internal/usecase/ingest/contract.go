// Package ingest implements the image library: uploads with duplicate
// gating, signal extraction, metadata edits, and deletion.
package ingest

import (
	"context"

	"github.com/lensquery/lensquery/internal/domain"
)

// ImageStore persists image rows (ISP).
type ImageStore interface {
	Insert(ctx context.Context, img *domain.Image) (int64, error)
	Get(ctx context.Context, id int64) (domain.Image, error)
	FindByContentHash(ctx context.Context, hash string) (domain.Image, error)
	PHashes(ctx context.Context) (map[int64]string, error)
	List(ctx context.Context, limit, offset int) ([]domain.Image, int, error)
	UpdateMeta(ctx context.Context, id int64, title, description, tags string) error
	Delete(ctx context.Context, id int64) error
}

// SignalWriter persists derived signal rows (ISP).
type SignalWriter interface {
	ReplaceHashes(ctx context.Context, imageID int64, hashes []domain.HashRecord) error
	ReplaceColors(ctx context.Context, imageID int64, colors []domain.ColorRecord) error
	UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error
	ReplaceRegions(ctx context.Context, imageID int64, model string, regions []domain.RegionRecord) error
}

// BlobStore persists and removes original image bytes (ISP).
type BlobStore interface {
	Save(filename string, data []byte) (string, error)
	Remove(filename string) error
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

// Settings exposes the runtime toggles the pipeline consults (ISP).
type Settings interface {
	Snapshot() domain.SettingsSnapshot
}
