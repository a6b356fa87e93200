package lensquery

import (
	"time"

	"github.com/lensquery/lensquery/internal/domain"
	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
)

// Image is a stored library entry.
type Image struct {
	ID           int64
	Filename     string
	OriginalName string
	MimeType     string
	Size         int64
	Width        int
	Height       int
	Title        string
	Description  string
	Tags         string
	CreatedAt    time.Time
}

// SignalStatus reports the per-signal outcome of an upload: "ok", "failed"
// or "skipped". A failed signal never fails the upload.
type SignalStatus struct {
	Hashes    string
	Colors    string
	Embedding string
	Regions   string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	Image   Image
	Signals SignalStatus
}

// Region locates a matched sub-rectangle in [0, 1] image coordinates.
type Region struct {
	X float64
	Y float64
	W float64
	H float64
}

// Hit is one ranked search match. The per-signal fields are nil when that
// signal did not participate in the comparison.
type Hit struct {
	ImageID        int64
	Filename       string
	Title          string
	Description    string
	Tags           string
	Score          float64
	ClipSimilarity *float64
	ColorDistance  *float64
	HashDistance   *int
	MatchedRegion  *Region
}

// SignalReport states which query-side signals were usable.
type SignalReport struct {
	Embedding bool
	Hash      bool
	Color     bool
}

// SearchResponse is the full search outcome.
type SearchResponse struct {
	Results  []Hit
	Signals  SignalReport
	Adjusted bool
	TookMS   float64
}

// ReindexSummary reports one reindex pass.
type ReindexSummary struct {
	Signal    string
	Requested int
	Processed int
	Failed    int
	TookMS    float64
}

func fromDomainImage(img domain.Image) Image {
	return Image{
		ID:           img.ID,
		Filename:     img.Filename,
		OriginalName: img.OriginalName,
		MimeType:     img.MimeType,
		Size:         img.Size,
		Width:        img.Width,
		Height:       img.Height,
		Title:        img.Title,
		Description:  img.Description,
		Tags:         img.Tags,
		CreatedAt:    img.CreatedAt,
	}
}

func fromDomainImages(imgs []domain.Image) []Image {
	out := make([]Image, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, fromDomainImage(img))
	}
	return out
}

func fromUploadResult(r ingestuc.Result) UploadResult {
	return UploadResult{
		Image: fromDomainImage(r.Image),
		Signals: SignalStatus{
			Hashes:    r.Signals.Hashes,
			Colors:    r.Signals.Colors,
			Embedding: r.Signals.Embedding,
			Regions:   r.Signals.Regions,
		},
	}
}

func fromSearchResponse(resp *searchuc.Response) *SearchResponse {
	out := &SearchResponse{
		Results: make([]Hit, 0, len(resp.Results)),
		Signals: SignalReport{
			Embedding: resp.Signals.Embedding,
			Hash:      resp.Signals.Hash,
			Color:     resp.Signals.Color,
		},
		Adjusted: resp.Adjusted,
		TookMS:   resp.Took,
	}
	for _, r := range resp.Results {
		hit := Hit{
			ImageID:        r.ImageID,
			Filename:       r.Filename,
			Title:          r.Title,
			Description:    r.Description,
			Tags:           r.Tags,
			Score:          r.Score,
			ClipSimilarity: r.ClipSimilarity,
			ColorDistance:  r.ColorDistance,
			HashDistance:   r.HashDistance,
		}
		if r.MatchedRegion != nil {
			hit.MatchedRegion = &Region{
				X: r.MatchedRegion.X,
				Y: r.MatchedRegion.Y,
				W: r.MatchedRegion.W,
				H: r.MatchedRegion.H,
			}
		}
		out.Results = append(out.Results, hit)
	}
	return out
}

func fromSummary(s indexuc.Summary) ReindexSummary {
	return ReindexSummary{
		Signal:    s.Signal,
		Requested: s.Requested,
		Processed: s.Processed,
		Failed:    s.Failed,
		TookMS:    s.Took,
	}
}
