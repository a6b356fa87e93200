package index

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/imaging"
	"github.com/lensquery/lensquery/internal/signal/colorhist"
	"github.com/lensquery/lensquery/internal/signal/dhash"
)

// batchSize is the progress logging granularity during full rebuilds.
const batchSize = 16

// Summary reports one reindex run.
type Summary struct {
	Signal    string  `json:"signal"`
	Requested int     `json:"requested"`
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	Took      float64 `json:"took_ms"`
}

// Service rebuilds derived signals from stored blobs.
type Service struct {
	images   ImageReader
	blobs    BlobReader
	signals  SignalStore
	embedder domain.ImageEmbedder
	regions  RegionEmbedder
	corpus   CorpusInvalidator
	logger   *zap.Logger
}

// New creates a reindexing service.
func New(
	images ImageReader,
	blobs BlobReader,
	signals SignalStore,
	embedder domain.ImageEmbedder,
	regions RegionEmbedder,
	corpus CorpusInvalidator,
	logger *zap.Logger,
) *Service {
	return &Service{
		images:   images,
		blobs:    blobs,
		signals:  signals,
		embedder: embedder,
		regions:  regions,
		corpus:   corpus,
		logger:   logger,
	}
}

// ReindexHashes recomputes perceptual hash rows for every stored image.
func (s *Service) ReindexHashes(ctx context.Context) (Summary, error) {
	ids, err := s.images.IDs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list images: %w", err)
	}
	return s.run(ctx, "hashes", ids, func(ctx context.Context, id int64, raw []byte, decoded image.Image) error {
		return s.signals.ReplaceHashes(ctx, id, dhash.Records(decoded))
	})
}

// ReindexColors recomputes color histogram rows for every stored image.
func (s *Service) ReindexColors(ctx context.Context) (Summary, error) {
	ids, err := s.images.IDs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list images: %w", err)
	}
	return s.run(ctx, "colors", ids, func(ctx context.Context, id int64, raw []byte, decoded image.Image) error {
		return s.signals.ReplaceColors(ctx, id, colorhist.Records(decoded))
	})
}

// ReindexEmbeddings backfills embeddings for images that have none under
// the current model. Images already embedded are left untouched, so the
// operation is cheap to re-run after provider outages.
func (s *Service) ReindexEmbeddings(ctx context.Context) (Summary, error) {
	ids, err := s.signals.MissingEmbeddingImageIDs(ctx, s.embedder.ModelID())
	if err != nil {
		return Summary{}, fmt.Errorf("list unembedded images: %w", err)
	}
	summary, err := s.run(ctx, "embeddings", ids, func(ctx context.Context, id int64, raw []byte, decoded image.Image) error {
		result, err := s.embedder.Embed(ctx, raw)
		if err != nil {
			return err
		}
		return s.signals.UpsertEmbedding(ctx, domain.EmbeddingRecord{
			ImageID:   id,
			ModelID:   result.ModelID,
			Dimension: result.Dimension,
			Vector:    result.Vector,
		})
	})
	if summary.Processed > 0 {
		s.corpus.Invalidate()
	}
	return summary, err
}

// ReindexRegions recomputes region embeddings for every stored image.
// With clear set, all existing region rows for the model are dropped
// first, which removes rows tiled under an older grid layout.
func (s *Service) ReindexRegions(ctx context.Context, clear bool) (Summary, error) {
	ids, err := s.images.IDs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list images: %w", err)
	}
	model := s.regions.ModelID()
	if clear {
		if err := s.signals.ClearRegions(ctx, model); err != nil {
			return Summary{}, fmt.Errorf("clear regions: %w", err)
		}
	}
	summary, err := s.run(ctx, "regions", ids, func(ctx context.Context, id int64, raw []byte, decoded image.Image) error {
		recs, err := s.regions.EmbedRegions(ctx, id, raw)
		if err != nil {
			return err
		}
		return s.signals.ReplaceRegions(ctx, id, model, recs)
	})
	if summary.Processed > 0 || clear {
		s.corpus.Invalidate()
	}
	return summary, err
}

// run drives one rebuild pass. Per-image failures are logged and counted;
// only context cancellation aborts the run.
func (s *Service) run(
	ctx context.Context,
	signal string,
	ids []int64,
	fn func(ctx context.Context, id int64, raw []byte, decoded image.Image) error,
) (Summary, error) {
	start := time.Now()
	summary := Summary{Signal: signal, Requested: len(ids)}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			summary.Took = float64(time.Since(start).Milliseconds())
			return summary, fmt.Errorf("reindex %s aborted: %w", signal, err)
		}

		if err := s.reindexOne(ctx, id, fn); err != nil {
			summary.Failed++
			s.logger.Warn("Reindex item failed",
				zap.String("signal", signal), zap.Int64("image_id", id), zap.Error(err))
		} else {
			summary.Processed++
		}

		if (i+1)%batchSize == 0 {
			s.logger.Debug("Reindex progress",
				zap.String("signal", signal), zap.Int("done", i+1), zap.Int("total", len(ids)))
		}
	}

	summary.Took = float64(time.Since(start).Milliseconds())
	s.logger.Info("Reindex complete",
		zap.String("signal", signal),
		zap.Int("requested", summary.Requested),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Float64("took_ms", summary.Took))
	return summary, nil
}

func (s *Service) reindexOne(
	ctx context.Context,
	id int64,
	fn func(ctx context.Context, id int64, raw []byte, decoded image.Image) error,
) error {
	img, err := s.images.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load image row: %w", err)
	}
	raw, err := s.blobs.Read(img.Filename)
	if err != nil {
		return fmt.Errorf("load blob: %w", err)
	}
	decoded, err := imaging.Decode(raw)
	if err != nil {
		return err
	}
	return fn(ctx, id, raw, decoded)
}
