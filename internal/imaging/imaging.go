// Package imaging provides the pixel-level primitives shared by the signal
// engines: decoding, grayscale conversion, resizing, center crops, and grid
// tiling with optional overlap.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	// Register the raster formats accepted at ingestion and query time.
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/lensquery/lensquery/internal/domain"
)

// Decode interprets raw bytes as a raster image.
// Unsupported or corrupt data maps to domain.ErrDecode.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return img, nil
}

// EncodePNG serializes an image for handoff to the embedding backend.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Grayscale converts an image to 8-bit grayscale.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(gray, gray.Bounds(), img, b.Min, xdraw.Src)
	return gray
}

// ToNRGBA copies an image into NRGBA form for per-pixel manipulation.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Resize scales an image to exactly w x h, ignoring aspect ratio.
func Resize(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// ResizeGray scales an image to exactly w x h grayscale, ignoring aspect ratio.
func ResizeGray(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// FitLongestEdge downscales so the longest edge is at most maxEdge,
// preserving aspect ratio. Images already within bounds are returned as-is.
func FitLongestEdge(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge || longest == 0 {
		return img
	}
	scale := float64(maxEdge) / float64(longest)
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return Resize(img, nw, nh)
}

// CenterCrop extracts a centered sub-rectangle whose width and height are
// ratio times the original dimensions.
func CenterCrop(img image.Image, ratio float64) image.Image {
	b := img.Bounds()
	w := int(float64(b.Dx()) * ratio)
	h := int(float64(b.Dy()) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x := b.Min.X + (b.Dx()-w)/2
	y := b.Min.Y + (b.Dy()-h)/2
	return SubImage(img, image.Rect(x, y, x+w, y+h))
}

// Tile is a rectangular sub-region of an image. Rect is expressed in the
// source image's coordinate space.
type Tile struct {
	Image image.Image
	Rect  image.Rectangle
}

// GridTiles partitions an image into a grid x grid non-overlapping grid.
// The last row and column absorb the integer-division remainder.
func GridTiles(img image.Image, grid int) []Tile {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || grid < 1 {
		return nil
	}
	tileW := max(1, w/grid)
	tileH := max(1, h/grid)

	tiles := make([]Tile, 0, grid*grid)
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			left := b.Min.X + gx*tileW
			top := b.Min.Y + gy*tileH
			tw, th := tileW, tileH
			if gx == grid-1 {
				tw = b.Max.X - left
			}
			if gy == grid-1 {
				th = b.Max.Y - top
			}
			r := image.Rect(left, top, left+tw, top+th)
			tiles = append(tiles, Tile{Image: SubImage(img, r), Rect: r.Sub(b.Min)})
		}
	}
	return tiles
}

// OverlappingTiles slides a fixed-size window of floor(dim/grid) with a step
// of tileSize*(1-overlap). A final window flush against the far edge is always
// included so the whole image is covered without gaps.
func OverlappingTiles(img image.Image, grid int, overlap float64) []Tile {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || grid < 1 {
		return nil
	}
	tileW := max(1, w/grid)
	tileH := max(1, h/grid)
	stepW := max(1, int(float64(tileW)*(1-overlap)))
	stepH := max(1, int(float64(tileH)*(1-overlap)))

	xs := strideOffsets(w, tileW, stepW)
	ys := strideOffsets(h, tileH, stepH)

	tiles := make([]Tile, 0, len(xs)*len(ys))
	for _, top := range ys {
		for _, left := range xs {
			r := image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+left+tileW, b.Min.Y+top+tileH)
			tiles = append(tiles, Tile{Image: SubImage(img, r), Rect: r.Sub(b.Min)})
		}
	}
	return tiles
}

// strideOffsets generates window start offsets from 0 by step, ending with a
// position flush against the far edge.
func strideOffsets(dim, window, step int) []int {
	var offsets []int
	for x := 0; x <= dim-window; x += step {
		offsets = append(offsets, x)
	}
	last := max(0, dim-window)
	if len(offsets) == 0 || offsets[len(offsets)-1] != last {
		offsets = append(offsets, last)
	}
	return offsets
}

// SubImage extracts a rectangular view of an image. Decoded image types
// support zero-copy SubImage; anything else is copied.
func SubImage(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, r.Min, xdraw.Src)
	return dst
}

// Luminance returns the Rec. 601 luma of a color in [0, 255].
func Luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}
