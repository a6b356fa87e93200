package lensquery

import (
	"context"
	"fmt"

	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
)

// SearchBuilder is a fluent builder for similarity queries. Zero values
// leave the engine defaults in place.
type SearchBuilder struct {
	svc *searchuc.Service

	image   []byte
	imageID int64

	topK   int
	minSim float64

	clipWeight  float64
	colorWeight float64
	hashWeight  float64

	method  string
	combine string

	useAugmentation *bool
	enableRerank    *bool
	rerankK         int
}

// TopK bounds the number of results.
func (b *SearchBuilder) TopK(n int) *SearchBuilder {
	b.topK = n
	return b
}

// MinSimilarity sets the semantic similarity floor for candidates.
func (b *SearchBuilder) MinSimilarity(s float64) *SearchBuilder {
	b.minSim = s
	return b
}

// Weights overrides the signal blend. The engine rescales them to sum
// to 1; all-zero keeps the default split.
func (b *SearchBuilder) Weights(clip, color, hash float64) *SearchBuilder {
	b.clipWeight = clip
	b.colorWeight = color
	b.hashWeight = hash
	return b
}

// Method restricts the query to one signal: "clip", "color" or "hash".
// Hash and color queries never call the embedding provider.
func (b *SearchBuilder) Method(m string) *SearchBuilder {
	b.method = m
	return b
}

// Combine selects the ordering mode, "weighted" or "lexicographic".
func (b *SearchBuilder) Combine(mode string) *SearchBuilder {
	b.combine = mode
	return b
}

// Augmentation overrides the global augmentation default for this query.
func (b *SearchBuilder) Augmentation(enabled bool) *SearchBuilder {
	b.useAugmentation = &enabled
	return b
}

// Rerank overrides the robust-recovery default for region rerank, with n
// bounding how many leading results it may touch (0 keeps the default).
func (b *SearchBuilder) Rerank(enabled bool, n int) *SearchBuilder {
	b.enableRerank = &enabled
	b.rerankK = n
	return b
}

// Do executes the query.
func (b *SearchBuilder) Do(ctx context.Context) (*SearchResponse, error) {
	opts := searchuc.Options{
		TopK:            b.topK,
		MinSim:          b.minSim,
		ClipWeight:      b.clipWeight,
		ColorWeight:     b.colorWeight,
		HashWeight:      b.hashWeight,
		Method:          b.method,
		Combine:         b.combine,
		UseAugmentation: b.useAugmentation,
		EnableRerank:    b.enableRerank,
		RerankK:         b.rerankK,
	}

	var (
		resp *searchuc.Response
		err  error
	)
	if b.image != nil {
		resp, err = b.svc.SearchByImage(ctx, b.image, opts)
	} else {
		resp, err = b.svc.SearchByID(ctx, b.imageID, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return fromSearchResponse(resp), nil
}
