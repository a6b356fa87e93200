// Package colorhist implements the color signal: normalized HSV histograms
// over the whole frame and center crops, compared with chi-square distance.
package colorhist

import (
	"image"
	"math"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/imaging"
)

// Histogram binning. Hue is the dominant axis.
const (
	HueBins = 8
	SatBins = 4
	ValBins = 4

	// BinCount is the flattened histogram length.
	BinCount = HueBins * SatBins * ValBins

	// maxEdge caps the longest image edge before sampling pixels.
	maxEdge = 128
)

// Variant names persisted alongside each histogram.
const (
	VariantGlobal   = "global"
	VariantCenter80 = "center_0.8"
	VariantCenter60 = "center_0.6"
	VariantCenter40 = "center_0.4"
)

var centerRatios = []struct {
	name  string
	ratio float64
}{
	{VariantCenter80, 0.8},
	{VariantCenter60, 0.6},
	{VariantCenter40, 0.4},
}

// Variant pairs a histogram with its crop name.
type Variant struct {
	Name      string
	Histogram []float64
}

// Compute builds the normalized 128-bin HSV histogram of the image. The
// image is downscaled so its longest edge is at most 128 pixels first.
func Compute(img image.Image) []float64 {
	small := imaging.ToNRGBA(imaging.FitLongestEdge(img, maxEdge))
	hist := make([]float64, BinCount)

	b := small.Bounds()
	total := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := small.NRGBAAt(x, y)
			h, s, v := rgbToHSV(c.R, c.G, c.B)
			hist[binIndex(h, s, v)]++
			total++
		}
	}
	if total == 0 {
		return hist
	}
	for i := range hist {
		hist[i] /= float64(total)
	}
	return hist
}

// ComputeVariants builds the global histogram plus one per center crop.
func ComputeVariants(img image.Image) []Variant {
	variants := make([]Variant, 0, 1+len(centerRatios))
	variants = append(variants, Variant{Name: VariantGlobal, Histogram: Compute(img)})
	for _, c := range centerRatios {
		variants = append(variants, Variant{
			Name:      c.name,
			Histogram: Compute(imaging.CenterCrop(img, c.ratio)),
		})
	}
	return variants
}

// Records computes the persisted color rows for one image. ImageID is left
// for the caller to fill.
func Records(img image.Image) []domain.ColorRecord {
	variants := ComputeVariants(img)
	recs := make([]domain.ColorRecord, 0, len(variants))
	for _, v := range variants {
		recs = append(recs, domain.ColorRecord{
			Variant:   v.Name,
			BinCount:  BinCount,
			Histogram: v.Histogram,
		})
	}
	return recs
}

// ChiSquare is the symmetric chi-square distance between two histograms:
// sum over bins of (a-b)^2 / (a+b), skipping empty bin pairs. Identical
// histograms score 0; larger is more different.
func ChiSquare(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dist float64
	for i := 0; i < n; i++ {
		sum := a[i] + b[i]
		if sum <= 0 {
			continue
		}
		diff := a[i] - b[i]
		dist += diff * diff / sum
	}
	return dist
}

// BestChiSquare returns the minimum chi-square distance over the cross
// product of two variant sets. Missing sides yield +Inf.
func BestChiSquare(query, stored []Variant) float64 {
	best := math.Inf(1)
	for _, q := range query {
		for _, s := range stored {
			if d := ChiSquare(q.Histogram, s.Histogram); d < best {
				best = d
			}
		}
	}
	return best
}

func binIndex(h, s, v float64) int {
	hb := int(h / 360 * HueBins)
	if hb >= HueBins {
		hb = HueBins - 1
	}
	sb := int(s * SatBins)
	if sb >= SatBins {
		sb = SatBins - 1
	}
	vb := int(v * ValBins)
	if vb >= ValBins {
		vb = ValBins - 1
	}
	return hb*SatBins*ValBins + sb*ValBins + vb
}

// rgbToHSV converts 8-bit RGB to hue in [0, 360), saturation and value in
// [0, 1].
func rgbToHSV(r8, g8, b8 uint8) (h, s, v float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max > 0 {
		s = delta / max
	}
	if delta == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}
