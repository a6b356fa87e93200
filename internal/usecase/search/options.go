package search

// Ranking and candidate-budget constants.
const (
	defaultTopK   = 20
	maxTopK       = 200
	defaultMinSim = 0.15

	defaultClipWeight  = 0.85
	defaultColorWeight = 0.10
	defaultHashWeight  = 0.05

	// Block promotion thresholds: near-certain matches rank above
	// everything else regardless of blended score.
	promoteCosine       = 0.7
	promoteHashDistance = 6

	// lexiEps is the badness margin within which two results count as
	// tied and fall through to the secondary ordering.
	lexiEps = 0.02

	// Candidate gathering.
	minSemanticCandidates = 10
	expansionScanTop      = 50

	// Imputed distances for candidates missing a stored signal.
	imputedColorDistance = 2.0
	imputedHashDistance  = 64

	// Degraded-query adjustments.
	lowQualityMinSimDelta = 0.05
	lowQualityMinSimFloor = 0.10
	lowQualityClipDelta   = 0.05
	lowQualityClipCap     = 0.90
	lowQualityColorDelta  = 0.03
	lowQualityColorFloor  = 0.05
	lowQualityMinTopK     = 30

	defaultRerankK = 10
)

// Method values restrict the query to a single signal. Auto uses all of
// them with the blended weights.
const (
	MethodAuto  = "auto"
	MethodClip  = "clip"
	MethodColor = "color"
	MethodHash  = "hash"
)

// Combine modes order the final list either by the blended score or by
// per-signal comparison in clip, color, hash priority.
const (
	CombineWeighted      = "weighted"
	CombineLexicographic = "lexicographic"
)

// Options are the caller-tunable search parameters. The zero value selects
// every default.
type Options struct {
	TopK        int
	MinSim      float64
	ClipWeight  float64
	ColorWeight float64
	HashWeight  float64

	// Method restricts the query to one signal; hash and color queries
	// skip the embedding provider entirely.
	Method string

	// Combine selects the final ordering mode.
	Combine string

	// UseAugmentation overrides the global augmentation default for this
	// query. Nil follows the runtime setting.
	UseAugmentation *bool

	// EnableRerank overrides the robust-recovery default for region
	// rerank. Nil follows the runtime setting.
	EnableRerank *bool

	// ExcludeImageID drops one image from the results, used by
	// search-by-id to suppress the trivial self match. Zero disables.
	ExcludeImageID int64

	// RerankK bounds how many leading results region rerank may touch.
	RerankK int
}

// normalize fills defaults, clamps ranges, and scales the weights to sum
// to 1. All-zero weights fall back to the default split.
func (o Options) normalize() Options {
	if o.TopK == 0 {
		o.TopK = defaultTopK
	}
	if o.TopK < 1 {
		o.TopK = 1
	}
	if o.TopK > maxTopK {
		o.TopK = maxTopK
	}
	if o.MinSim == 0 {
		o.MinSim = defaultMinSim
	}
	if o.MinSim < 0 {
		o.MinSim = 0
	}
	if o.MinSim > 1 {
		o.MinSim = 1
	}
	if o.RerankK <= 0 {
		o.RerankK = defaultRerankK
	}

	switch o.Method {
	case MethodClip, MethodColor, MethodHash:
	default:
		o.Method = MethodAuto
	}
	if o.Combine != CombineLexicographic {
		o.Combine = CombineWeighted
	}

	// A restricted method collapses the blend onto its signal.
	switch o.Method {
	case MethodClip:
		o.ClipWeight, o.ColorWeight, o.HashWeight = 1, 0, 0
		return o
	case MethodColor:
		o.ClipWeight, o.ColorWeight, o.HashWeight = 0, 1, 0
		return o
	case MethodHash:
		o.ClipWeight, o.ColorWeight, o.HashWeight = 0, 0, 1
		return o
	}

	if o.ClipWeight < 0 {
		o.ClipWeight = 0
	}
	if o.ColorWeight < 0 {
		o.ColorWeight = 0
	}
	if o.HashWeight < 0 {
		o.HashWeight = 0
	}
	sum := o.ClipWeight + o.ColorWeight + o.HashWeight
	if sum == 0 {
		o.ClipWeight = defaultClipWeight
		o.ColorWeight = defaultColorWeight
		o.HashWeight = defaultHashWeight
		return o
	}
	o.ClipWeight /= sum
	o.ColorWeight /= sum
	o.HashWeight /= sum
	return o
}

// adjustForLowQuality loosens the options for degraded queries: the
// similarity floor drops, semantic weight rises at the expense of color,
// and the result window widens.
func (o Options) adjustForLowQuality() Options {
	o.MinSim -= lowQualityMinSimDelta
	if o.MinSim < lowQualityMinSimFloor {
		o.MinSim = lowQualityMinSimFloor
	}
	o.ClipWeight += lowQualityClipDelta
	if o.ClipWeight > lowQualityClipCap {
		o.ClipWeight = lowQualityClipCap
	}
	o.ColorWeight -= lowQualityColorDelta
	if o.ColorWeight < lowQualityColorFloor {
		o.ColorWeight = lowQualityColorFloor
	}
	o.HashWeight = 1 - o.ClipWeight - o.ColorWeight
	if o.HashWeight < 0 {
		o.HashWeight = 0
	}
	if o.TopK < lowQualityMinTopK {
		o.TopK = lowQualityMinTopK
	}
	return o
}

// Candidate budget derivations.
func clipCandidates(topK int) int {
	if n := 5 * topK; n > 100 {
		return n
	}
	return 100
}

func signalCandidates(topK int) int {
	if n := 3 * topK; n > 60 {
		return n
	}
	return 60
}

func hashFallbackBudget(topK int) int {
	return clampInt(signalCandidates(topK)/2, 30, 80)
}

func colorFallbackBudget(topK int) int {
	return clampInt(signalCandidates(topK)/2, 24, 60)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
