package search

import "testing"

func TestSignalBadnessImputation(t *testing.T) {
	c := &candidate{}
	clip, color, hash := c.signalBadness()
	if clip != 1 {
		t.Fatalf("missing clip badness = %v, want 1", clip)
	}
	if color != 1 {
		t.Fatalf("missing color badness = %v, want 1 (imputed chi-square 2.0)", color)
	}
	if hash != 1 {
		t.Fatalf("missing hash badness = %v, want 1 (imputed distance 64)", hash)
	}
}

func TestSignalBadnessMeasured(t *testing.T) {
	c := &candidate{
		clipSim: 0.8, hasClip: true,
		colorDist: 0.5, hasColor: true,
		hashDist: 16, hasHash: true,
	}
	clip, color, hash := c.signalBadness()
	if got, want := clip, 1-0.8; !almostEqual(got, want) {
		t.Fatalf("clip badness = %v, want %v", got, want)
	}
	if got, want := color, 0.25; !almostEqual(got, want) {
		t.Fatalf("color badness = %v, want %v", got, want)
	}
	if got, want := hash, 0.25; !almostEqual(got, want) {
		t.Fatalf("hash badness = %v, want %v", got, want)
	}

	// Color badness caps at 1 for chi-square beyond 2.
	c.colorDist = 5
	_, color, _ = c.signalBadness()
	if color != 1 {
		t.Fatalf("capped color badness = %v, want 1", color)
	}
}

func TestScoreWeightRedistribution(t *testing.T) {
	opts := Options{}.normalize()
	c := &candidate{clipSim: 0.5, hasClip: true, colorDist: 1, hasColor: true, hashDist: 32, hasHash: true}

	// Query lacking the hash signal: clip and color weights are rescaled
	// so the blend still spans [0, 1].
	c.score(opts, true, true, false)
	wc := defaultClipWeight / (defaultClipWeight + defaultColorWeight)
	wcol := defaultColorWeight / (defaultClipWeight + defaultColorWeight)
	want := wc*0.5 + wcol*0.5
	if !almostEqual(c.badness, want) {
		t.Fatalf("badness = %v, want %v", c.badness, want)
	}

	// Query with no signals at all degenerates to worst badness.
	c.score(opts, false, false, false)
	if c.badness != 1 {
		t.Fatalf("badness = %v, want 1", c.badness)
	}
}

func TestRankPromotedBlockFirst(t *testing.T) {
	// A strong hash match with mediocre semantics outranks a better
	// blended score that is not promoted.
	strong := &candidate{imageID: 1, clipSim: 0.3, hasClip: true, hashDist: 2, hasHash: true}
	smooth := &candidate{imageID: 2, clipSim: 0.65, hasClip: true, hashDist: 30, hasHash: true}
	opts := Options{}.normalize()
	strong.score(opts, true, false, true)
	smooth.score(opts, true, false, true)
	if strong.badness <= smooth.badness {
		t.Fatalf("test setup: expected strong (%v) to have worse badness than smooth (%v)",
			strong.badness, smooth.badness)
	}

	list := []*candidate{smooth, strong}
	rank(list, CombineWeighted)
	if list[0].imageID != 1 {
		t.Fatalf("promoted candidate should rank first, got image %d", list[0].imageID)
	}
}

func TestRankCosinePromotion(t *testing.T) {
	high := &candidate{imageID: 5, clipSim: 0.75, hasClip: true}
	low := &candidate{imageID: 6, clipSim: 0.69, hasClip: true}
	if high.promoteBlock() != blockHighClip {
		t.Fatal("cosine 0.75 should promote")
	}
	if low.promoteBlock() != blockRest {
		t.Fatal("cosine 0.69 should not promote")
	}
}

func TestRankHighClipBlockBeforeStrongHash(t *testing.T) {
	// A candidate at the cosine bar outranks a near-duplicate hash just
	// below it, whatever their blended scores say.
	atBar := &candidate{imageID: 1, clipSim: 0.70, hasClip: true, colorDist: 1.6, hasColor: true, hashDist: 40, hasHash: true}
	nearDup := &candidate{imageID: 2, clipSim: 0.69, hasClip: true, colorDist: 0.1, hasColor: true, hashDist: 2, hasHash: true}
	opts := Options{}.normalize()
	atBar.score(opts, true, true, true)
	nearDup.score(opts, true, true, true)
	if atBar.badness <= nearDup.badness {
		t.Fatalf("test setup: expected atBar (%v) to blend worse than nearDup (%v)",
			atBar.badness, nearDup.badness)
	}

	list := []*candidate{nearDup, atBar}
	rank(list, CombineWeighted)
	if list[0].imageID != 1 {
		t.Fatalf("high-clip block should lead, got image %d first", list[0].imageID)
	}
}

func TestRankHighClipBlockOrderedBySimilarity(t *testing.T) {
	// Within the high-clip block similarity decides, not the blend.
	higher := &candidate{imageID: 1, clipSim: 0.75, hasClip: true, colorDist: 1.8, hasColor: true, hashDist: 50, hasHash: true}
	lower := &candidate{imageID: 2, clipSim: 0.72, hasClip: true, colorDist: 0.1, hasColor: true, hashDist: 12, hasHash: true}
	opts := Options{}.normalize()
	higher.score(opts, true, true, true)
	lower.score(opts, true, true, true)
	if higher.badness <= lower.badness {
		t.Fatalf("test setup: expected higher (%v) to blend worse than lower (%v)",
			higher.badness, lower.badness)
	}

	list := []*candidate{lower, higher}
	rank(list, CombineWeighted)
	if list[0].imageID != 1 {
		t.Fatalf("higher similarity should lead its block, got image %d first", list[0].imageID)
	}
}

func TestRankStrongHashBlockOrderedByDistance(t *testing.T) {
	closer := &candidate{imageID: 1, clipSim: 0.2, hasClip: true, hashDist: 3, hasHash: true}
	farther := &candidate{imageID: 2, clipSim: 0.6, hasClip: true, hashDist: 5, hasHash: true}
	opts := Options{}.normalize()
	closer.score(opts, true, false, true)
	farther.score(opts, true, false, true)

	list := []*candidate{farther, closer}
	rank(list, CombineWeighted)
	if list[0].imageID != 1 {
		t.Fatalf("smaller Hamming distance should lead the hash block, got image %d first", list[0].imageID)
	}

	// Equal distances fall through to the semantic signal.
	farther.hashDist = 3
	rank(list, CombineWeighted)
	if list[0].imageID != 2 {
		t.Fatalf("tied hash distances should break on semantics, got image %d first", list[0].imageID)
	}
}

func TestRankLexiEpsTieBreak(t *testing.T) {
	// Badness within lexiEps counts as a tie; the higher semantic
	// similarity wins even though its badness is slightly worse.
	a := &candidate{imageID: 1, clipSim: 0.50, hasClip: true, badness: 0.400}
	b := &candidate{imageID: 2, clipSim: 0.55, hasClip: true, badness: 0.410}
	list := []*candidate{a, b}
	rank(list, CombineWeighted)
	if list[0].imageID != 2 {
		t.Fatalf("within eps the higher clip similarity should win, got image %d", list[0].imageID)
	}

	// Outside the eps the raw badness decides.
	a.badness = 0.30
	b.badness = 0.40
	rank(list, CombineWeighted)
	if list[0].imageID != 1 {
		t.Fatalf("outside eps the lower badness should win, got image %d", list[0].imageID)
	}
}

func TestRankLexicographic(t *testing.T) {
	// Lexicographic mode decides on clip badness alone when the gap
	// exceeds eps, even though the blended badness says otherwise.
	a := &candidate{imageID: 1, clipBad: 0.10, colorBad: 0.9, hashBad: 0.9, badness: 0.9}
	b := &candidate{imageID: 2, clipBad: 0.40, colorBad: 0.1, hashBad: 0.1, badness: 0.1}
	list := []*candidate{b, a}
	rank(list, CombineLexicographic)
	if list[0].imageID != 1 {
		t.Fatalf("lexicographic should rank on clip first, got image %d", list[0].imageID)
	}

	// Clip within eps falls through to color.
	a.clipBad, b.clipBad = 0.30, 0.31
	a.colorBad, b.colorBad = 0.8, 0.2
	rank(list, CombineLexicographic)
	if list[0].imageID != 2 {
		t.Fatalf("tied clip should fall through to color, got image %d", list[0].imageID)
	}
}

func TestRankDeterministicByImageID(t *testing.T) {
	a := &candidate{imageID: 9, clipSim: 0.5, hasClip: true, badness: 0.5}
	b := &candidate{imageID: 3, clipSim: 0.5, hasClip: true, badness: 0.5}
	list := []*candidate{a, b}
	rank(list, CombineWeighted)
	if list[0].imageID != 3 {
		t.Fatalf("full ties should order by image ID, got %d first", list[0].imageID)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
