package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/imaging"
)

// Region tiling parameters. The tile cap keeps pathological aspect ratios
// from exploding the provider call count.
const (
	RegionGrid    = 7
	RegionOverlap = 0.5
)

// maxRegionTiles caps tiles per image at grid^2 * 2.
const maxRegionTiles = RegionGrid * RegionGrid * 2

// Regions computes embeddings for overlapping sub-rectangles of an image.
type Regions struct {
	inner  domain.ImageEmbedder
	logger *zap.Logger
}

// NewRegions creates the region embedder.
func NewRegions(inner domain.ImageEmbedder, logger *zap.Logger) *Regions {
	return &Regions{inner: inner, logger: logger}
}

// ModelID names the backing model for region records.
func (r *Regions) ModelID() string { return r.inner.ModelID() }

// EmbedRegions tiles the image with an overlapping grid and embeds each
// tile. Tiles that fail to embed are skipped; an error is returned only
// when every tile fails.
func (r *Regions) EmbedRegions(ctx context.Context, imageID int64, image []byte) ([]domain.RegionRecord, error) {
	decoded, err := imaging.Decode(image)
	if err != nil {
		return nil, err
	}

	tiles := imaging.OverlappingTiles(decoded, RegionGrid, RegionOverlap)
	if len(tiles) > maxRegionTiles {
		tiles = tiles[:maxRegionTiles]
	}

	records := make([]domain.RegionRecord, 0, len(tiles))
	failed := 0
	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("region embedding interrupted: %w", err)
		}
		encoded, err := imaging.EncodePNG(tile.Image)
		if err != nil {
			failed++
			continue
		}
		result, err := r.inner.Embed(ctx, encoded)
		if err != nil {
			failed++
			r.logger.Warn("Region embed failed",
				zap.Int64("image_id", imageID),
				zap.Int("x", tile.Rect.Min.X),
				zap.Int("y", tile.Rect.Min.Y),
				zap.Error(err))
			continue
		}
		records = append(records, domain.RegionRecord{
			ImageID:  imageID,
			ModelID:  r.inner.ModelID(),
			GridSize: RegionGrid,
			Overlap:  RegionOverlap,
			Rect: domain.Rect{
				X: tile.Rect.Min.X,
				Y: tile.Rect.Min.Y,
				W: tile.Rect.Dx(),
				H: tile.Rect.Dy(),
			},
			Dimension: result.Dimension,
			Vector:    result.Vector,
		})
	}

	if len(records) == 0 && failed > 0 {
		return nil, fmt.Errorf("all %d region tiles failed: %w", failed, domain.ErrEmbeddingProvider)
	}
	return records, nil
}
