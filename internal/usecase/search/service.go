package search

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/domain/quality"
	"github.com/lensquery/lensquery/internal/imaging"
	"github.com/lensquery/lensquery/internal/metrics"
	"github.com/lensquery/lensquery/internal/signal/colorhist"
	"github.com/lensquery/lensquery/internal/signal/dhash"
)

// searchBudget bounds one search end to end, provider calls included.
const searchBudget = 15 * time.Second

// NormalizedRect locates a matched region in [0, 1] image coordinates.
type NormalizedRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Result is one ranked match.
type Result struct {
	ImageID        int64           `json:"image_id"`
	Filename       string          `json:"filename"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Tags           string          `json:"tags"`
	Score          float64         `json:"score"`
	ClipSimilarity *float64        `json:"clip_similarity,omitempty"`
	ColorDistance  *float64        `json:"color_distance,omitempty"`
	HashDistance   *int            `json:"hash_distance,omitempty"`
	MatchedRegion  *NormalizedRect `json:"matched_region,omitempty"`
}

// SignalReport states which query signals were usable.
type SignalReport struct {
	Embedding bool `json:"embedding"`
	Hash      bool `json:"hash"`
	Color     bool `json:"color"`
}

// Response is the full search outcome.
type Response struct {
	Results  []Result     `json:"results"`
	Signals  SignalReport `json:"signals"`
	Adjusted bool         `json:"quality_adjusted"`
	Took     float64      `json:"took_ms"`
}

// Service runs multi-signal similarity searches. embedder is the
// augmented query pipeline, plain the unpooled one; the per-query
// UseAugmentation option (or the global default) picks between them.
type Service struct {
	repo     SignalRepository
	images   ImageReader
	blobs    BlobReader
	corpus   CorpusCache
	embedder domain.ImageEmbedder
	plain    domain.ImageEmbedder
	settings Settings
	logger   *zap.Logger
}

// New creates a search service.
func New(
	repo SignalRepository,
	images ImageReader,
	blobs BlobReader,
	corpus CorpusCache,
	embedder domain.ImageEmbedder,
	plain domain.ImageEmbedder,
	settings Settings,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		images:   images,
		blobs:    blobs,
		corpus:   corpus,
		embedder: embedder,
		plain:    plain,
		settings: settings,
		logger:   logger,
	}
}

// SearchByImage finds stored images similar to the uploaded bytes.
func (s *Service) SearchByImage(ctx context.Context, image []byte, opts Options) (*Response, error) {
	return s.search(ctx, "image", image, opts)
}

// SearchByID finds images similar to a stored one, excluding the trivial
// self match.
func (s *Service) SearchByID(ctx context.Context, id int64, opts Options) (*Response, error) {
	img, err := s.images.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load query image: %w", err)
	}
	data, err := s.blobs.Read(img.Filename)
	if err != nil {
		return nil, fmt.Errorf("load query blob: %w", err)
	}
	opts.ExcludeImageID = id
	return s.search(ctx, "id", data, opts)
}

func (s *Service) search(ctx context.Context, mode string, image []byte, opts Options) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, searchBudget)
	defer cancel()

	resp, err := s.run(ctx, image, opts)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(mode, status).Inc()
	metrics.SearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if resp != nil {
		resp.Took = float64(time.Since(start).Milliseconds())
	}
	return resp, err
}

func (s *Service) run(ctx context.Context, image []byte, opts Options) (*Response, error) {
	opts = opts.normalize()

	decoded, err := imaging.Decode(image)
	if err != nil {
		return nil, err
	}

	qual := quality.Analyze(imaging.Grayscale(decoded))
	adjusted := false
	if qual.IsBlurry() || qual.Score() < 0.6 {
		opts = opts.adjustForLowQuality()
		adjusted = true
	}

	sig := s.computeSignals(ctx, image, decoded, opts)
	if !sig.hasAny() {
		return nil, domain.ErrNoSignals
	}
	// A clip-only query cannot fall back to the other signals.
	if opts.Method == MethodClip && sig.vector == nil {
		return nil, domain.ErrNoSignals
	}

	cands, err := s.gather(ctx, sig, opts)
	if err != nil {
		return nil, err
	}

	if err := s.measure(ctx, sig, cands); err != nil {
		return nil, err
	}

	list := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if opts.ExcludeImageID != 0 && c.imageID == opts.ExcludeImageID {
			continue
		}
		c.score(opts, sig.vector != nil, sig.colors != nil, len(sig.hashes) > 0)
		list = append(list, c)
	}
	rank(list, opts.Combine)
	if len(list) > opts.TopK {
		list = list[:opts.TopK]
	}

	rerankOn := s.settings.Snapshot().RobustRecovery
	if opts.EnableRerank != nil {
		rerankOn = *opts.EnableRerank
	}
	if rerankOn && sig.vector != nil {
		if err := s.rerankRegions(ctx, sig.vector, list, opts); err != nil {
			s.logger.Warn("Region rerank skipped", zap.Error(err))
		}
	}

	return &Response{
		Results: s.render(ctx, list),
		Signals: SignalReport{
			Embedding: sig.vector != nil,
			Hash:      len(sig.hashes) > 0,
			Color:     sig.colors != nil,
		},
		Adjusted: adjusted,
	}, nil
}

// querySignals holds whatever query-side signals could be computed.
type querySignals struct {
	vector []float32
	model  string
	hashes []dhash.Hash
	colors []colorhist.Variant
}

func (q *querySignals) hasAny() bool {
	return q.vector != nil || len(q.hashes) > 0 || q.colors != nil
}

// computeSignals derives the three query signals concurrently. Each can
// fail independently; failures are logged, counted, and left nil. A
// restricted method skips the embedding call entirely for hash and color
// queries so they never touch the provider.
func (s *Service) computeSignals(ctx context.Context, raw []byte, decoded image.Image, opts Options) *querySignals {
	sig := &querySignals{}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if opts.Method == MethodHash || opts.Method == MethodColor {
			return
		}
		emb := s.embedder
		useAug := s.settings.Snapshot().Augmentation
		if opts.UseAugmentation != nil {
			useAug = *opts.UseAugmentation
		}
		if !useAug {
			emb = s.plain
		}
		result, err := emb.Embed(ctx, raw)
		if err != nil {
			metrics.SearchSignalFailuresTotal.WithLabelValues("embedding").Inc()
			s.logger.Warn("Query embedding failed", zap.Error(err))
			return
		}
		sig.vector = result.Vector
		sig.model = result.ModelID
	}()

	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.SearchSignalFailuresTotal.WithLabelValues("hash").Inc()
				s.logger.Warn("Query hashing panicked", zap.Any("panic", r))
			}
		}()
		hashes := []dhash.Hash{dhash.Compute(decoded)}
		for _, grid := range dhash.DefaultGrids {
			hashes = append(hashes, dhash.ComputeTiles(decoded, grid)...)
		}
		hashes = append(hashes, dhash.ComputeOverlappingTiles(decoded, dhash.OverlapGrid, dhash.OverlapRatio)...)
		sig.hashes = hashes
	}()

	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.SearchSignalFailuresTotal.WithLabelValues("color").Inc()
				s.logger.Warn("Query color histogram panicked", zap.Any("panic", r))
			}
		}()
		sig.colors = colorhist.ComputeVariants(decoded)
	}()

	wg.Wait()
	return sig
}

// gather assembles the candidate pool. The semantic scan is primary, but a
// small top block of the whole-corpus hash and color scans is always mixed
// in so a strong perceptual match the model missed still surfaces. When
// the semantic pool comes back nearly empty, both the unfiltered semantic
// scan and the hash and color budgets widen.
func (s *Service) gather(ctx context.Context, sig *querySignals, opts Options) (map[int64]*candidate, error) {
	cands := make(map[int64]*candidate)
	semanticTaken := 0

	if sig.vector != nil {
		corpus, err := s.corpus.Ensure(ctx, sig.model)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}

		type scored struct {
			item domain.CorpusItem
			sim  float64
		}
		scoredAll := make([]scored, 0, len(corpus))
		for _, item := range corpus {
			scoredAll = append(scoredAll, scored{item: item, sim: domain.Cosine(sig.vector, item.Vector)})
		}
		sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].sim > scoredAll[j].sim })

		budget := clipCandidates(opts.TopK)
		for _, sc := range scoredAll {
			if semanticTaken >= budget || sc.sim < opts.MinSim {
				break
			}
			cands[sc.item.ImageID] = newCandidate(sc.item, sc.sim)
			semanticTaken++
		}

		// Near-empty semantic pool: widen to the best of the whole
		// corpus regardless of the similarity floor.
		if semanticTaken < minSemanticCandidates {
			for i, sc := range scoredAll {
				if i >= expansionScanTop {
					break
				}
				if _, ok := cands[sc.item.ImageID]; !ok {
					cands[sc.item.ImageID] = newCandidate(sc.item, sc.sim)
				}
			}
		}
	}

	// A clip-restricted query takes semantic candidates only.
	if opts.Method == MethodClip {
		return cands, nil
	}

	// The perceptual scans widen when semantics gave little or nothing.
	expand := sig.vector == nil || semanticTaken < minSemanticCandidates

	if len(sig.hashes) > 0 {
		all, err := s.repo.AllHashes(ctx)
		if err != nil {
			return nil, fmt.Errorf("hash fallback scan: %w", err)
		}
		type scored struct {
			id   int64
			dist int
		}
		var scoredAll []scored
		for id, records := range all {
			if d, ok := bestHashDistance(sig.hashes, records); ok {
				scoredAll = append(scoredAll, scored{id: id, dist: d})
			}
		}
		sort.Slice(scoredAll, func(i, j int) bool {
			if scoredAll[i].dist != scoredAll[j].dist {
				return scoredAll[i].dist < scoredAll[j].dist
			}
			return scoredAll[i].id < scoredAll[j].id
		})
		budget := hashFallbackBudget(opts.TopK)
		if expand && budget < expansionScanTop {
			budget = expansionScanTop
		}
		for i, sc := range scoredAll {
			if i >= budget {
				break
			}
			if _, ok := cands[sc.id]; !ok {
				cands[sc.id] = &candidate{imageID: sc.id}
			}
		}
	}

	if sig.colors != nil {
		all, err := s.repo.AllColors(ctx)
		if err != nil {
			return nil, fmt.Errorf("color fallback scan: %w", err)
		}
		type scored struct {
			id   int64
			dist float64
		}
		var scoredAll []scored
		for id, records := range all {
			if d, ok := bestColorDistance(sig.colors, records); ok {
				scoredAll = append(scoredAll, scored{id: id, dist: d})
			}
		}
		sort.Slice(scoredAll, func(i, j int) bool {
			if scoredAll[i].dist != scoredAll[j].dist {
				return scoredAll[i].dist < scoredAll[j].dist
			}
			return scoredAll[i].id < scoredAll[j].id
		})
		budget := colorFallbackBudget(opts.TopK)
		if expand && budget < expansionScanTop {
			budget = expansionScanTop
		}
		for i, sc := range scoredAll {
			if i >= budget {
				break
			}
			if _, ok := cands[sc.id]; !ok {
				cands[sc.id] = &candidate{imageID: sc.id}
			}
		}
	}

	return cands, nil
}

// measure fills in hash and color measurements for every candidate.
func (s *Service) measure(ctx context.Context, sig *querySignals, cands map[int64]*candidate) error {
	if len(cands) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}

	if len(sig.hashes) > 0 {
		stored, err := s.repo.HashesForImages(ctx, ids)
		if err != nil {
			return fmt.Errorf("load candidate hashes: %w", err)
		}
		for id, c := range cands {
			if d, ok := bestHashDistance(sig.hashes, stored[id]); ok {
				c.hashDist = d
				c.hasHash = true
			}
		}
	}

	if sig.colors != nil {
		stored, err := s.repo.ColorsForImages(ctx, ids)
		if err != nil {
			return fmt.Errorf("load candidate colors: %w", err)
		}
		for id, c := range cands {
			if d, ok := bestColorDistance(sig.colors, stored[id]); ok {
				c.colorDist = d
				c.hasColor = true
			}
		}
	}
	return nil
}

// rerankRegions lets a strong sub-region match lift a candidate: when the
// best region cosine beats the whole-image one, the candidate is rescored
// with it and the region reported, then the head of the list is reordered.
func (s *Service) rerankRegions(ctx context.Context, vector []float32, list []*candidate, opts Options) error {
	k := opts.RerankK
	if k > len(list) {
		k = len(list)
	}
	if k == 0 {
		return nil
	}

	regions, err := s.corpus.EnsureRegions(ctx, s.embedder.ModelID())
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}
	if len(regions) == 0 {
		return nil
	}

	byImage := make(map[int64][]domain.RegionRecord)
	for _, reg := range regions {
		byImage[reg.ImageID] = append(byImage[reg.ImageID], reg)
	}

	head := list[:k]
	for _, c := range head {
		best := -1.0
		var bestRect domain.Rect
		for _, reg := range byImage[c.imageID] {
			if sim := domain.Cosine(vector, reg.Vector); sim > best {
				best = sim
				bestRect = reg.Rect
			}
		}
		if best <= c.clipSim || !c.hasClip {
			continue
		}
		c.regionSim = best
		c.clipSim = best
		c.score(opts, true, c.hasColor, c.hasHash)
		if rect, ok := s.normalizeRect(ctx, c.imageID, bestRect); ok {
			c.matchedRegion = &rect
		}
	}
	rank(head, opts.Combine)
	return nil
}

// normalizeRect converts a pixel rect to [0, 1] coordinates using the
// stored image dimensions.
func (s *Service) normalizeRect(ctx context.Context, imageID int64, r domain.Rect) (NormalizedRect, bool) {
	img, err := s.images.Get(ctx, imageID)
	if err != nil || img.Width == 0 || img.Height == 0 {
		return NormalizedRect{}, false
	}
	w, h := float64(img.Width), float64(img.Height)
	return NormalizedRect{
		X: float64(r.X) / w,
		Y: float64(r.Y) / h,
		W: float64(r.W) / w,
		H: float64(r.H) / h,
	}, true
}

// render converts ranked candidates to results, filling metadata for
// fallback candidates that never passed through the corpus cache.
func (s *Service) render(ctx context.Context, list []*candidate) []Result {
	results := make([]Result, 0, len(list))
	for _, c := range list {
		if c.filename == "" {
			if img, err := s.images.Get(ctx, c.imageID); err == nil {
				c.filename = img.Filename
				c.title = img.Title
				c.description = img.Description
				c.tags = img.Tags
			}
		}
		r := Result{
			ImageID:       c.imageID,
			Filename:      c.filename,
			Title:         c.title,
			Description:   c.description,
			Tags:          c.tags,
			Score:         1 - c.badness,
			MatchedRegion: c.matchedRegion,
		}
		if c.hasClip {
			sim := c.clipSim
			r.ClipSimilarity = &sim
		}
		if c.hasColor {
			d := c.colorDist
			r.ColorDistance = &d
		}
		if c.hasHash {
			d := c.hashDist
			r.HashDistance = &d
		}
		results = append(results, r)
	}
	return results
}

func newCandidate(item domain.CorpusItem, sim float64) *candidate {
	return &candidate{
		imageID:     item.ImageID,
		filename:    item.Filename,
		title:       item.Title,
		description: item.Description,
		tags:        item.Tags,
		clipSim:     sim,
		hasClip:     true,
	}
}

// bestHashDistance is the minimum Hamming distance over the cross product
// of query hashes and stored hash rows.
func bestHashDistance(query []dhash.Hash, stored []domain.HashRecord) (int, bool) {
	best := -1
	for _, rec := range stored {
		h, err := dhash.ParseHex(rec.Hash)
		if err != nil {
			continue
		}
		for _, q := range query {
			if d := q.DistanceTo(h); best < 0 || d < best {
				best = d
			}
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// bestColorDistance is the minimum chi-square over the cross product of
// query and stored histogram variants.
func bestColorDistance(query []colorhist.Variant, stored []domain.ColorRecord) (float64, bool) {
	if len(stored) == 0 {
		return 0, false
	}
	variants := make([]colorhist.Variant, len(stored))
	for i, rec := range stored {
		variants[i] = colorhist.Variant{Name: rec.Variant, Histogram: rec.Histogram}
	}
	d := colorhist.BestChiSquare(query, variants)
	if math.IsInf(d, 1) {
		return 0, false
	}
	return d, true
}
