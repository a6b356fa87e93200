// Package augment produces photometric variants of a query image. The
// variant list is ordered by what the quality metrics say the image needs,
// so truncating to a budget keeps the most promising corrections.
package augment

import (
	"image"

	"github.com/lensquery/lensquery/internal/domain/quality"
	"github.com/lensquery/lensquery/internal/imaging"
)

// Variant names.
const (
	NameOriginal        = "original"
	NameContrastStretch = "contrast_stretch"
	NameEqualize        = "histogram_equalization"
	NameBlur            = "gaussian_blur"
	NameDarker          = "darker"
	NameBrighter        = "brighter"
	NameUnsharp         = "unsharp"
	NameGamma           = "gamma"
)

// Variant is a named rendition of the input image.
type Variant struct {
	Name  string
	Image image.Image
}

type filter struct {
	name  string
	apply func(*image.NRGBA) *image.NRGBA
}

// Build returns the original image followed by filtered variants, ordered
// so corrections for the observed degradations come first, truncated to
// max entries. max < 1 yields just the original.
func Build(img image.Image, m quality.Metrics, max int) []Variant {
	if max < 1 {
		max = 1
	}
	variants := []Variant{{Name: NameOriginal, Image: img}}
	if max == 1 {
		return variants
	}

	src := imaging.ToNRGBA(img)
	for _, f := range order(m) {
		if len(variants) >= max {
			break
		}
		variants = append(variants, Variant{Name: f.name, Image: f.apply(src)})
	}
	return variants
}

var filters = map[string]func(*image.NRGBA) *image.NRGBA{
	NameContrastStretch: contrastStretch,
	NameEqualize:        equalize,
	NameBlur:            gaussianBlur,
	NameDarker:          darker,
	NameBrighter:        brighter,
	NameUnsharp:         unsharp,
	NameGamma:           gammaBoost,
}

// order ranks the filter pool by the metrics: underexposure pulls the
// brightening filters forward, low contrast pulls the stretchers, noise
// pulls the blur, softness pulls the sharpener.
func order(m quality.Metrics) []filter {
	ordered := make([]filter, 0, len(filters))
	seen := map[string]bool{}
	push := func(ns ...string) {
		for _, n := range ns {
			if !seen[n] {
				seen[n] = true
				ordered = append(ordered, filter{name: n, apply: filters[n]})
			}
		}
	}
	if m.IsDark() {
		push(NameBrighter, NameGamma)
	}
	if m.IsBright() {
		push(NameDarker)
	}
	if m.IsLowContrast() {
		push(NameContrastStretch, NameEqualize)
	}
	if m.IsNoisy() {
		push(NameBlur)
	}
	if m.IsBlurry() {
		push(NameUnsharp)
	}
	// Stable default tail for whatever the metrics did not request.
	push(NameContrastStretch, NameEqualize, NameBlur, NameDarker, NameBrighter, NameUnsharp, NameGamma)
	return ordered
}
