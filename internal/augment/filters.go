package augment

import (
	"image"
	"math"
)

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// luma is the Rec. 601 luminance of an 8-bit RGB triple.
func luma(r, g, b uint8) uint8 {
	return clampByte(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

// contrastStretch remaps luminance linearly so the darkest pixel hits 0 and
// the brightest hits 255, applied uniformly per channel.
func contrastStretch(src *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	forEachPixel(src, func(r, g, b uint8) {
		y := luma(r, g, b)
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	})
	if hi <= lo {
		return cloneNRGBA(src)
	}
	scale := 255.0 / float64(hi-lo)
	return mapChannels(src, func(v uint8) uint8 {
		return clampByte((float64(v) - float64(lo)) * scale)
	})
}

// equalize applies global histogram equalization over luminance, scaling
// each pixel's channels by the equalized-to-original luminance ratio.
func equalize(src *image.NRGBA) *image.NRGBA {
	var hist [256]int
	total := 0
	forEachPixel(src, func(r, g, b uint8) {
		hist[luma(r, g, b)]++
		total++
	})
	if total == 0 {
		return cloneNRGBA(src)
	}

	var cdf [256]float64
	running := 0
	for i, n := range hist {
		running += n
		cdf[i] = float64(running) / float64(total)
	}

	return mapPixels(src, func(r, g, b uint8) (uint8, uint8, uint8) {
		y := luma(r, g, b)
		if y == 0 {
			return r, g, b
		}
		ratio := cdf[y] * 255 / float64(y)
		return clampByte(float64(r) * ratio), clampByte(float64(g) * ratio), clampByte(float64(b) * ratio)
	})
}

// gaussianBlur convolves a 3x3 gaussian kernel (1 2 1 / 2 4 2 / 1 2 1)/16.
func gaussianBlur(src *image.NRGBA) *image.NRGBA {
	return convolve3x3(src, [9]float64{
		1.0 / 16, 2.0 / 16, 1.0 / 16,
		2.0 / 16, 4.0 / 16, 2.0 / 16,
		1.0 / 16, 2.0 / 16, 1.0 / 16,
	})
}

// darker scales every channel by 0.9.
func darker(src *image.NRGBA) *image.NRGBA {
	return mapChannels(src, func(v uint8) uint8 {
		return clampByte(float64(v) * 0.9)
	})
}

// brighter scales every channel by 1.1 and adds a 10 point lift.
func brighter(src *image.NRGBA) *image.NRGBA {
	return mapChannels(src, func(v uint8) uint8 {
		return clampByte(float64(v)*1.1 + 10)
	})
}

// unsharp adds back the difference between the image and its blur:
// sharpened = original + 0.8 * (original - blurred).
func unsharp(src *image.NRGBA) *image.NRGBA {
	blurred := gaussianBlur(src)
	out := image.NewNRGBA(src.Bounds())
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := src.NRGBAAt(x, y)
			bl := blurred.NRGBAAt(x, y)
			o.R = clampByte(float64(o.R) + 0.8*(float64(o.R)-float64(bl.R)))
			o.G = clampByte(float64(o.G) + 0.8*(float64(o.G)-float64(bl.G)))
			o.B = clampByte(float64(o.B) + 0.8*(float64(o.B)-float64(bl.B)))
			out.SetNRGBA(x, y, o)
		}
	}
	return out
}

// gammaBoost applies gamma 0.7, lifting midtones and shadows.
func gammaBoost(src *image.NRGBA) *image.NRGBA {
	var lut [256]uint8
	for i := range lut {
		lut[i] = clampByte(255 * math.Pow(float64(i)/255, 0.7))
	}
	return mapChannels(src, func(v uint8) uint8 { return lut[v] })
}

func convolve3x3(src *image.NRGBA, k [9]float64) *image.NRGBA {
	b := src.Bounds()
	out := cloneNRGBA(src)
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var r, g, bl float64
			i := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					c := src.NRGBAAt(x+dx, y+dy)
					r += k[i] * float64(c.R)
					g += k[i] * float64(c.G)
					bl += k[i] * float64(c.B)
					i++
				}
			}
			c := src.NRGBAAt(x, y)
			c.R, c.G, c.B = clampByte(r), clampByte(g), clampByte(bl)
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func forEachPixel(src *image.NRGBA, fn func(r, g, b uint8)) {
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.NRGBAAt(x, y)
			fn(c.R, c.G, c.B)
		}
	}
}

func mapChannels(src *image.NRGBA, fn func(uint8) uint8) *image.NRGBA {
	return mapPixels(src, func(r, g, b uint8) (uint8, uint8, uint8) {
		return fn(r), fn(g), fn(b)
	})
}

func mapPixels(src *image.NRGBA, fn func(r, g, b uint8) (uint8, uint8, uint8)) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.NRGBAAt(x, y)
			c.R, c.G, c.B = fn(c.R, c.G, c.B)
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}
