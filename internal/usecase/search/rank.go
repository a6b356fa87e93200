package search

import "sort"

// candidate carries the per-image signal measurements through ranking.
// Missing measurements are marked rather than zeroed so imputation and
// block promotion can tell "bad" from "absent".
type candidate struct {
	imageID     int64
	filename    string
	title       string
	description string
	tags        string

	clipSim   float64
	hasClip   bool
	colorDist float64
	hasColor  bool
	hashDist  int
	hasHash   bool

	badness  float64
	clipBad  float64
	colorBad float64
	hashBad  float64

	matchedRegion *NormalizedRect
	regionSim     float64
}

// signalBadness converts each raw measurement to a [0, 1] badness:
// semantic 1-cos, color chi-square halved and capped, hash distance over
// the hash width. Absent signals take the imputed pessimistic values.
func (c *candidate) signalBadness() (clip, color, hash float64) {
	clip = 1
	if c.hasClip {
		clip = 1 - c.clipSim
		if clip < 0 {
			clip = 0
		}
		if clip > 1 {
			clip = 1
		}
	}

	colorDist := imputedColorDistance
	if c.hasColor {
		colorDist = c.colorDist
	}
	color = colorDist / 2
	if color > 1 {
		color = 1
	}

	hashDist := imputedHashDistance
	if c.hasHash {
		hashDist = c.hashDist
	}
	hash = float64(hashDist) / 64
	if hash > 1 {
		hash = 1
	}
	return clip, color, hash
}

// score blends the signal badnesses under the option weights. When the
// query itself lacks a signal, its weight is redistributed across the
// remaining ones instead of punishing every candidate equally.
func (c *candidate) score(opts Options, queryHasClip, queryHasColor, queryHasHash bool) {
	clip, color, hash := c.signalBadness()
	c.clipBad, c.colorBad, c.hashBad = clip, color, hash

	wc, wcol, wh := opts.ClipWeight, opts.ColorWeight, opts.HashWeight
	if !queryHasClip {
		wc = 0
	}
	if !queryHasColor {
		wcol = 0
	}
	if !queryHasHash {
		wh = 0
	}
	sum := wc + wcol + wh
	if sum == 0 {
		c.badness = 1
		return
	}
	c.badness = (wc*clip + wcol*color + wh*hash) / sum
}

// Promotion blocks, in rank order. High semantic matches come first, then
// near-duplicate hashes that semantics missed, then everyone else.
const (
	blockHighClip = iota
	blockStrongHash
	blockRest
)

// promoteBlock assigns a candidate to its promotion block. A strong hash
// only promotes when the semantic similarity is below the cosine bar, so
// the two blocks never compete.
func (c *candidate) promoteBlock() int {
	if c.hasClip && c.clipSim >= promoteCosine {
		return blockHighClip
	}
	if c.hasHash && c.hashDist <= promoteHashDistance {
		return blockStrongHash
	}
	return blockRest
}

// rank orders candidates block by block. The high-clip block sorts by
// similarity descending with blended badness as tie break; the strong-hash
// block by Hamming distance ascending, semantics second. The rest sorts by
// blended badness with a lexiEps tie window broken by semantic similarity,
// or in lexicographic mode by per-signal badness in clip, color, hash
// priority, each with the same tolerance. Image ID breaks final ties for
// determinism.
func rank(cands []*candidate, combine string) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		ab, bb := a.promoteBlock(), b.promoteBlock()
		if ab != bb {
			return ab < bb
		}
		switch ab {
		case blockHighClip:
			if a.clipSim != b.clipSim {
				return a.clipSim > b.clipSim
			}
			if a.badness != b.badness {
				return a.badness < b.badness
			}
			return a.imageID < b.imageID
		case blockStrongHash:
			if a.hashDist != b.hashDist {
				return a.hashDist < b.hashDist
			}
			if a.clipBad != b.clipBad {
				return a.clipBad < b.clipBad
			}
			return a.imageID < b.imageID
		}
		if combine == CombineLexicographic {
			for _, d := range []float64{
				a.clipBad - b.clipBad,
				a.colorBad - b.colorBad,
				a.hashBad - b.hashBad,
			} {
				if d < -lexiEps {
					return true
				}
				if d > lexiEps {
					return false
				}
			}
			return a.imageID < b.imageID
		}
		diff := a.badness - b.badness
		if diff < -lexiEps {
			return true
		}
		if diff > lexiEps {
			return false
		}
		if a.clipSim != b.clipSim {
			return a.clipSim > b.clipSim
		}
		return a.imageID < b.imageID
	})
}
