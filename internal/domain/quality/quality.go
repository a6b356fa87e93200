// Package quality derives lightweight photometric statistics from a
// grayscale frame and turns them into augmentation decisions.
package quality

import (
	"image"
	"math"
)

// Classification thresholds on the normalized metrics.
const (
	blurryBelow      = 0.25
	noisyAbove       = 0.10
	lowContrastBelow = 0.25
	darkBelow        = 0.3
	brightAbove      = 0.7
)

// Variant budgets by issue severity.
const (
	budgetSevere   = 12
	budgetModerate = 8
	budgetBase     = 4

	budgetSevereRobust   = 18
	budgetModerateRobust = 12
	budgetBaseRobust     = 6
)

// Metrics are normalized photometric statistics, each roughly in [0, 1].
type Metrics struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	Noise      float64 `json:"noise"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// AugmentationDecision is the variant budget derived from Metrics.
type AugmentationDecision struct {
	UseAugmentation bool
	MaxVariants     int
}

// Analyze computes the metrics of a grayscale frame in a single set of
// passes: mean brightness over 255, RMS contrast over 128, Laplacian
// variance over 1000 as a sharpness proxy, and mean local 3x3 standard
// deviation over 50 as a noise proxy.
func Analyze(img *image.Gray) Metrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := Metrics{Width: w, Height: h}
	if w == 0 || h == 0 {
		return m
	}

	total := float64(w * h)
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / total
	variance := sumSq/total - mean*mean
	if variance < 0 {
		variance = 0
	}
	m.Brightness = clamp01(mean / 255)
	m.Contrast = clamp01(math.Sqrt(variance) / 128)

	if w >= 3 && h >= 3 {
		m.Sharpness = clamp01(laplacianVariance(img) / 1000)
		m.Noise = clamp01(localStdDev(img) / 50)
	}
	return m
}

// IsBlurry reports low Laplacian response.
func (m Metrics) IsBlurry() bool { return m.Sharpness < blurryBelow }

// IsNoisy reports high local pixel variance.
func (m Metrics) IsNoisy() bool { return m.Noise > noisyAbove }

// IsLowContrast reports a compressed tonal range.
func (m Metrics) IsLowContrast() bool { return m.Contrast < lowContrastBelow }

// IsDark reports underexposure.
func (m Metrics) IsDark() bool { return m.Brightness < darkBelow }

// IsBright reports overexposure.
func (m Metrics) IsBright() bool { return m.Brightness > brightAbove }

// Issues counts how many degradation predicates fire.
func (m Metrics) Issues() int {
	n := 0
	for _, hit := range []bool{m.IsBlurry(), m.IsNoisy(), m.IsLowContrast(), m.IsDark(), m.IsBright()} {
		if hit {
			n++
		}
	}
	return n
}

// Score collapses the metrics into a single [0, 1] quality figure. Each
// firing predicate knocks off an equal share.
func (m Metrics) Score() float64 {
	return clamp01(1 - float64(m.Issues())*0.2)
}

// Decide picks the variant budget for an image: degraded frames earn more
// augmentation variants, and robust recovery mode raises every budget.
func Decide(m Metrics, robust bool) AugmentationDecision {
	d := AugmentationDecision{UseAugmentation: true}
	switch issues := m.Issues(); {
	case issues >= 2:
		d.MaxVariants = budgetSevere
		if robust {
			d.MaxVariants = budgetSevereRobust
		}
	case issues == 1:
		d.MaxVariants = budgetModerate
		if robust {
			d.MaxVariants = budgetModerateRobust
		}
	default:
		d.MaxVariants = budgetBase
		if robust {
			d.MaxVariants = budgetBaseRobust
		}
	}
	return d
}

func laplacianVariance(img *image.Gray) float64 {
	b := img.Bounds()
	var sum, sumSq float64
	count := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			center := float64(img.GrayAt(x, y).Y)
			lap := 4*center -
				float64(img.GrayAt(x-1, y).Y) -
				float64(img.GrayAt(x+1, y).Y) -
				float64(img.GrayAt(x, y-1).Y) -
				float64(img.GrayAt(x, y+1).Y)
			sum += lap
			sumSq += lap * lap
			count++
		}
	}
	if count == 0 {
		return 0
	}
	mean := sum / float64(count)
	v := sumSq/float64(count) - mean*mean
	if v < 0 {
		v = 0
	}
	return v
}

func localStdDev(img *image.Gray) float64 {
	b := img.Bounds()
	var total float64
	count := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var sum, sumSq float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := float64(img.GrayAt(x+dx, y+dy).Y)
					sum += v
					sumSq += v * v
				}
			}
			mean := sum / 9
			v := sumSq/9 - mean*mean
			if v < 0 {
				v = 0
			}
			total += math.Sqrt(v)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
