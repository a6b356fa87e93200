package domain

import "time"

// WholeImageTile is the tile_index value marking the whole-image hash row.
const WholeImageTile = -1

// Image is a stored asset. Deleting an image cascades to all derived signal records.
type Image struct {
	ID           int64
	Filename     string
	OriginalName string
	StoragePath  string
	Size         int64
	MimeType     string
	Width        int
	Height       int
	Title        string
	Description  string
	Tags         string
	ContentHash  string
	PHash        string
	CreatedAt    time.Time
}

// HashRecord is one 64-bit perceptual hash of an image or of one of its tiles.
// TileIndex == WholeImageTile denotes the whole-image hash; otherwise it addresses
// one cell of a GridSize x GridSize partition. Stride is the overlap percentage
// (0 for non-overlapping grids).
type HashRecord struct {
	ImageID   int64
	TileIndex int
	GridSize  int
	Stride    int
	Hash      string // 16 hex chars = 64 bits
}

// ColorRecord is one quantized HSV histogram of an image variant.
// Variant is "global" or "center_<ratio>" for concentric center crops.
// Histogram is a probability distribution: non-negative, sums to 1.
type ColorRecord struct {
	ImageID   int64
	Variant   string
	BinCount  int
	Histogram []float64
}

// EmbeddingRecord is the whole-image embedding for one model.
// At most one record exists per (ImageID, ModelID); writes are upserts.
type EmbeddingRecord struct {
	ImageID   int64
	ModelID   string
	Dimension int
	Vector    []float32
}

// Rect is a pixel-space sub-rectangle of an image.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// RegionRecord is an embedding of an image sub-region, used to recover matches
// when the query depicts a crop or occluded fragment of a stored image.
type RegionRecord struct {
	ImageID   int64
	ModelID   string
	GridSize  int
	Overlap   float64
	Rect      Rect
	Dimension int
	Vector    []float32
}

// CorpusItem is one cached corpus vector plus the display metadata
// needed to render a result without a second lookup.
type CorpusItem struct {
	ImageID     int64
	Filename    string
	Title       string
	Description string
	Tags        string
	Vector      []float32
}
