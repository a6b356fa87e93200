// Package search implements multi-signal image similarity: semantic
// embeddings fused with perceptual hashes and color histograms under
// weighted badness ranking.
package search

import (
	"context"

	"github.com/lensquery/lensquery/internal/domain"
)

// SignalRepository reads stored signal rows (ISP).
type SignalRepository interface {
	HashesForImages(ctx context.Context, ids []int64) (map[int64][]domain.HashRecord, error)
	ColorsForImages(ctx context.Context, ids []int64) (map[int64][]domain.ColorRecord, error)
	AllHashes(ctx context.Context) (map[int64][]domain.HashRecord, error)
	AllColors(ctx context.Context) (map[int64][]domain.ColorRecord, error)
}

// ImageReader loads stored images for search-by-id (ISP).
type ImageReader interface {
	Get(ctx context.Context, id int64) (domain.Image, error)
}

// BlobReader loads the original bytes of a stored image (ISP).
type BlobReader interface {
	Read(filename string) ([]byte, error)
}

// CorpusCache serves the in-memory embedding corpus (ISP).
type CorpusCache interface {
	Ensure(ctx context.Context, model string) ([]domain.CorpusItem, error)
	EnsureRegions(ctx context.Context, model string) ([]domain.RegionRecord, error)
}

// Settings exposes the runtime toggles (ISP).
type Settings interface {
	Snapshot() domain.SettingsSnapshot
}
