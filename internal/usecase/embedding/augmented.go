// Package embedding builds image embeddings on top of the provider: the
// quality-guided augmented pipeline for queries and the region tiler for
// partial-match recovery.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/augment"
	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/domain/quality"
	"github.com/lensquery/lensquery/internal/imaging"
)

// embedConcurrency bounds parallel provider calls per query.
const embedConcurrency = 2

// Compile-time check: Augmented implements domain.ImageEmbedder.
var _ domain.ImageEmbedder = (*Augmented)(nil)

// settings is the consumer interface for runtime toggles (ISP).
type settings interface {
	Snapshot() domain.SettingsSnapshot
}

// Augmented decorates an embedder with quality-guided augmentation: it
// derives photometric variants of the input, embeds them concurrently, and
// mean-pools the vectors into one robust embedding.
type Augmented struct {
	inner    domain.ImageEmbedder
	settings settings
	logger   *zap.Logger
}

// NewAugmented creates the augmented embedding decorator.
func NewAugmented(inner domain.ImageEmbedder, s settings, logger *zap.Logger) *Augmented {
	return &Augmented{inner: inner, settings: s, logger: logger}
}

// ModelID delegates to the inner embedder.
func (a *Augmented) ModelID() string { return a.inner.ModelID() }

// Embed returns the pooled embedding of the image's variant set. When the
// bytes do not decode it degrades to a plain single embedding of the raw
// input. Callers that want no augmentation at all use the inner embedder
// directly; the search service picks per query.
func (a *Augmented) Embed(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	snap := a.settings.Snapshot()

	decoded, err := imaging.Decode(image)
	if err != nil {
		a.logger.Warn("Augmentation skipped, input does not decode", zap.Error(err))
		return a.inner.Embed(ctx, image)
	}

	metrics := quality.Analyze(imaging.Grayscale(decoded))
	decision := quality.Decide(metrics, snap.RobustRecovery)
	variants := augment.Build(decoded, metrics, decision.MaxVariants)

	vectors := a.embedVariants(ctx, image, variants)
	if len(vectors) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("all %d variants failed: %w",
			len(variants), domain.ErrEmbeddingProvider)
	}

	pooled := domain.MeanPool(vectors)
	a.logger.Debug("Pooled augmented embedding",
		zap.Int("variants", len(variants)),
		zap.Int("embedded", len(vectors)),
		zap.Int("issues", metrics.Issues()))

	return domain.EmbeddingResult{
		Vector:    pooled,
		ModelID:   a.inner.ModelID(),
		Dimension: len(pooled),
	}, nil
}

// embedVariants embeds each variant with bounded concurrency, keeping
// whichever succeed. The original variant reuses the raw input bytes so
// its cache entry matches the plain pipeline's.
func (a *Augmented) embedVariants(ctx context.Context, raw []byte, variants []augment.Variant) [][]float32 {
	type slot struct {
		vec []float32
		ok  bool
	}
	slots := make([]slot, len(variants))

	var wg sync.WaitGroup
	sem := make(chan struct{}, embedConcurrency)
	for i, v := range variants {
		wg.Add(1)
		go func(i int, v augment.Variant) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			payload := raw
			if v.Name != augment.NameOriginal {
				encoded, err := imaging.EncodePNG(v.Image)
				if err != nil {
					a.logger.Warn("Variant encode failed",
						zap.String("variant", v.Name), zap.Error(err))
					return
				}
				payload = encoded
			}
			result, err := a.inner.Embed(ctx, payload)
			if err != nil {
				a.logger.Warn("Variant embed failed",
					zap.String("variant", v.Name), zap.Error(err))
				return
			}
			slots[i] = slot{vec: result.Vector, ok: true}
		}(i, v)
	}
	wg.Wait()

	vectors := make([][]float32, 0, len(slots))
	for _, s := range slots {
		if s.ok {
			vectors = append(vectors, s.vec)
		}
	}
	return vectors
}
