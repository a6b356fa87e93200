// Package dhash implements the perceptual hash engine: 64-bit difference
// hashes over whole images and spatial tiles, plus Hamming distance ranking.
package dhash

import (
	"encoding/hex"
	"fmt"
	"image"
	"math/bits"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/imaging"
)

// Bits is the fixed hash width.
const Bits = 64

// Tiling applied at both ingestion and query time. Stored and query tile
// sets must agree or cross-scale matches degrade.
var DefaultGrids = []int{3, 4, 5}

const (
	// OverlapGrid and OverlapRatio define the extra sliding-window pass.
	OverlapGrid  = 4
	OverlapRatio = 0.5
	// OverlapStridePercent is the persisted stride marker for rows
	// produced by the overlapping pass.
	OverlapStridePercent = 50
)

// Hash is a 64-bit difference hash packed MSB-first into 8 bytes.
type Hash [8]byte

// Hex renders the hash as 16 lowercase hex characters, the persisted form.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// ParseHex decodes the 16-hex-char persisted form.
func ParseHex(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("parse hash %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// DistanceTo returns the Hamming distance to another hash, in [0, 64].
func (h Hash) DistanceTo(other Hash) int {
	return Distance(h[:], other[:])
}

// Compute produces the 64-bit dHash of an image: grayscale, resize to a 9x8
// grid ignoring aspect ratio, then compare each of the 8 adjacent horizontal
// pixel pairs per row. A bit is set when the left pixel is brighter.
func Compute(img image.Image) Hash {
	small := imaging.ResizeGray(img, 9, 8)

	var h Hash
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			if left > right {
				h[bit/8] |= 1 << (7 - bit%8)
			}
			bit++
		}
	}
	return h
}

// ComputeTiles hashes each cell of a grid x grid non-overlapping partition.
// The last row and column absorb the integer-division remainder.
func ComputeTiles(img image.Image, grid int) []Hash {
	tiles := imaging.GridTiles(img, grid)
	hashes := make([]Hash, len(tiles))
	for i, t := range tiles {
		hashes[i] = Compute(t.Image)
	}
	return hashes
}

// ComputeOverlappingTiles hashes a sliding window of floor(dim/grid) pixels
// with the given overlap ratio, covering the image flush to the far edges.
func ComputeOverlappingTiles(img image.Image, grid int, overlap float64) []Hash {
	tiles := imaging.OverlappingTiles(img, grid, overlap)
	hashes := make([]Hash, len(tiles))
	for i, t := range tiles {
		hashes[i] = Compute(t.Image)
	}
	return hashes
}

// Records computes the full persisted hash set for one image: the whole
// frame, every default grid, and the overlapping pass. ImageID is left for
// the caller to fill.
func Records(img image.Image) []domain.HashRecord {
	recs := []domain.HashRecord{{
		TileIndex: domain.WholeImageTile,
		GridSize:  1,
		Hash:      Compute(img).Hex(),
	}}
	for _, grid := range DefaultGrids {
		for i, h := range ComputeTiles(img, grid) {
			recs = append(recs, domain.HashRecord{TileIndex: i, GridSize: grid, Hash: h.Hex()})
		}
	}
	for i, h := range ComputeOverlappingTiles(img, OverlapGrid, OverlapRatio) {
		recs = append(recs, domain.HashRecord{
			TileIndex: i,
			GridSize:  OverlapGrid,
			Stride:    OverlapStridePercent,
			Hash:      h.Hex(),
		})
	}
	return recs
}

// Distance is the Hamming distance between two hashes: popcount of the XOR
// over the shared prefix. Should the byte lengths ever differ, the extra set
// bits of the longer buffer count as additional distance.
func Distance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	longer := a
	if len(b) > len(a) {
		longer = b
	}
	for i := n; i < len(longer); i++ {
		dist += bits.OnesCount8(longer[i])
	}
	return dist
}

// Similarity maps a Hamming distance to [0, 1], 1 meaning identical.
func Similarity(distance int) float64 {
	if distance < 0 {
		distance = 0
	}
	if distance > Bits {
		distance = Bits
	}
	return 1 - float64(distance)/float64(Bits)
}
