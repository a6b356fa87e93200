package lensquery

import (
	"testing"
	"time"

	"github.com/lensquery/lensquery/internal/domain"
	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
)

func TestFromUploadResult(t *testing.T) {
	now := time.Now()
	res := fromUploadResult(ingestuc.Result{
		Image: domain.Image{
			ID:           7,
			Filename:     "abc.png",
			OriginalName: "cat.png",
			MimeType:     "image/png",
			Size:         123,
			Width:        64,
			Height:       48,
			Title:        "cat",
			CreatedAt:    now,
		},
		Signals: ingestuc.SignalStatus{
			Hashes:    "ok",
			Colors:    "ok",
			Embedding: "failed",
			Regions:   "skipped",
		},
	})

	if res.Image.ID != 7 || res.Image.Filename != "abc.png" || res.Image.Title != "cat" {
		t.Errorf("image = %+v", res.Image)
	}
	if !res.Image.CreatedAt.Equal(now) {
		t.Errorf("created at = %v", res.Image.CreatedAt)
	}
	if res.Signals.Embedding != "failed" || res.Signals.Regions != "skipped" {
		t.Errorf("signals = %+v", res.Signals)
	}
}

func TestFromSearchResponse(t *testing.T) {
	clip := 0.91
	hashDist := 3
	resp := fromSearchResponse(&searchuc.Response{
		Results: []searchuc.Result{
			{
				ImageID:        4,
				Filename:       "x.png",
				Score:          0.87,
				ClipSimilarity: &clip,
				HashDistance:   &hashDist,
				MatchedRegion:  &searchuc.NormalizedRect{X: 0.25, Y: 0.5, W: 0.5, H: 0.5},
			},
			{ImageID: 9, Score: 0.4},
		},
		Signals:  searchuc.SignalReport{Embedding: true, Hash: true},
		Adjusted: true,
		Took:     12.5,
	})

	if len(resp.Results) != 2 {
		t.Fatalf("results = %d", len(resp.Results))
	}
	first := resp.Results[0]
	if first.ImageID != 4 || first.Score != 0.87 {
		t.Errorf("first = %+v", first)
	}
	if first.ClipSimilarity == nil || *first.ClipSimilarity != clip {
		t.Errorf("clip = %v", first.ClipSimilarity)
	}
	if first.MatchedRegion == nil || first.MatchedRegion.X != 0.25 {
		t.Errorf("region = %+v", first.MatchedRegion)
	}
	if resp.Results[1].HashDistance != nil || resp.Results[1].MatchedRegion != nil {
		t.Errorf("second result carried signals it should not: %+v", resp.Results[1])
	}
	if !resp.Adjusted || resp.TookMS != 12.5 {
		t.Errorf("adjusted=%v took=%v", resp.Adjusted, resp.TookMS)
	}
	if !resp.Signals.Embedding || resp.Signals.Color {
		t.Errorf("signals = %+v", resp.Signals)
	}
}

func TestFromSummary(t *testing.T) {
	sum := fromSummary(indexuc.Summary{
		Signal:    "hashes",
		Requested: 10,
		Processed: 9,
		Failed:    1,
		Took:      42,
	})
	if sum.Signal != "hashes" || sum.Requested != 10 || sum.Processed != 9 || sum.Failed != 1 || sum.TookMS != 42 {
		t.Errorf("summary = %+v", sum)
	}
}
