package lensquery

import (
	"context"
	"fmt"

	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
)

// ReindexService rebuilds derived signal records from stored originals.
type ReindexService struct {
	svc *indexuc.Service
}

// Hashes recomputes perceptual hashes for every image.
func (s *ReindexService) Hashes(ctx context.Context) (ReindexSummary, error) {
	sum, err := s.svc.ReindexHashes(ctx)
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("reindex hashes: %w", err)
	}
	return fromSummary(sum), nil
}

// Colors recomputes color histograms for every image.
func (s *ReindexService) Colors(ctx context.Context) (ReindexSummary, error) {
	sum, err := s.svc.ReindexColors(ctx)
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("reindex colors: %w", err)
	}
	return fromSummary(sum), nil
}

// Embeddings backfills embeddings for images that have none. Images with
// an embedding on record are left untouched.
func (s *ReindexService) Embeddings(ctx context.Context) (ReindexSummary, error) {
	sum, err := s.svc.ReindexEmbeddings(ctx)
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("reindex embeddings: %w", err)
	}
	return fromSummary(sum), nil
}

// Regions recomputes region embeddings. With clear set, existing region
// records are dropped first, which disables region rerank until the pass
// repopulates them.
func (s *ReindexService) Regions(ctx context.Context, clear bool) (ReindexSummary, error) {
	sum, err := s.svc.ReindexRegions(ctx, clear)
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("reindex regions: %w", err)
	}
	return fromSummary(sum), nil
}
