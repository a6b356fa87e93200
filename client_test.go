package lensquery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

func TestNoopEmbedder(t *testing.T) {
	noop := noopEmbedder{}
	_, err := noop.Embed(context.Background(), []byte("img"))
	if err == nil {
		t.Fatal("expected error from noopEmbedder")
	}
	if noop.ModelID() != "none" {
		t.Fatalf("unexpected model id %q", noop.ModelID())
	}
}

func TestOptions(t *testing.T) {
	cfg := &clientConfig{}
	for _, o := range []Option{
		WithDataDir("/tmp/lq"),
		WithEmbedding("http://localhost:8000/v1", "key", "clip-test"),
		WithCacheCapacity(128),
		WithCacheTTL(time.Minute),
		WithAugmentation(false),
		WithRobustRecovery(true),
	} {
		o.apply(cfg)
	}

	if cfg.dataDir != "/tmp/lq" {
		t.Errorf("dataDir = %q", cfg.dataDir)
	}
	if cfg.embeddingBaseURL != "http://localhost:8000/v1" || cfg.embeddingModel != "clip-test" {
		t.Errorf("embedding config = %q %q", cfg.embeddingBaseURL, cfg.embeddingModel)
	}
	if cfg.cacheCapacity != 128 || cfg.cacheTTL != time.Minute {
		t.Errorf("cache config = %d %v", cfg.cacheCapacity, cfg.cacheTTL)
	}
	if cfg.augmentation || !cfg.robustRecovery {
		t.Errorf("toggles = %v %v", cfg.augmentation, cfg.robustRecovery)
	}
}

func TestWithEmbeddingKeepsDefaultModel(t *testing.T) {
	cfg := &clientConfig{embeddingModel: defaultModel}
	WithEmbedding("http://localhost:8000/v1", "", "").apply(cfg)
	if cfg.embeddingModel != defaultModel {
		t.Fatalf("model = %q, want %q", cfg.embeddingModel, defaultModel)
	}
}

// gradientPNG renders a smooth horizontal color ramp.
func gradientPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := uint8(x * 4)
			img.Set(x, y, color.RGBA{R: c, G: c, B: 255 - c, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// checkerPNG renders a high-frequency checkerboard, perceptually far from
// the gradient so the near-duplicate gate lets both in.
func checkerPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 20, G: 20, B: 20, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(WithDataDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	gradient := gradientPNG(t)
	res, err := client.Images().Upload(ctx, gradient, Meta{
		OriginalName: "gradient.png",
		Title:        "ramp",
		Tags:         "test,synthetic",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Image.Width != 64 || res.Image.Height != 64 {
		t.Errorf("dimensions = %dx%d", res.Image.Width, res.Image.Height)
	}
	if res.Signals.Hashes != "ok" || res.Signals.Colors != "ok" {
		t.Errorf("signals = %+v", res.Signals)
	}
	if res.Signals.Embedding != "failed" {
		t.Errorf("embedding status = %q, want failed without a provider", res.Signals.Embedding)
	}

	got, err := client.Images().Get(ctx, res.Image.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "ramp" {
		t.Errorf("title = %q", got.Title)
	}

	updated, err := client.Images().UpdateMeta(ctx, res.Image.ID, "ramp v2", "smooth", "test")
	if err != nil {
		t.Fatalf("UpdateMeta: %v", err)
	}
	if updated.Title != "ramp v2" || updated.Description != "smooth" {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := client.Images().Upload(ctx, checkerPNG(t), Meta{OriginalName: "checker.png"}); err != nil {
		t.Fatalf("Upload checker: %v", err)
	}

	imgs, total, err := client.Images().List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(imgs) != 2 {
		t.Fatalf("list = %d items, total %d", len(imgs), total)
	}

	if err := client.Images().Delete(ctx, res.Image.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := client.Images().Get(ctx, res.Image.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v, want ErrNotFound", err)
	}
}

func TestClientRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	gradient := gradientPNG(t)
	if _, err := client.Images().Upload(ctx, gradient, Meta{}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := client.Images().Upload(ctx, gradient, Meta{})
	if !errors.Is(err, ErrDuplicateImage) {
		t.Fatalf("second upload: %v, want ErrDuplicateImage", err)
	}
}

func TestClientSearch(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	gradient := gradientPNG(t)
	up, err := client.Images().Upload(ctx, gradient, Meta{OriginalName: "gradient.png"})
	if err != nil {
		t.Fatalf("Upload gradient: %v", err)
	}
	if _, err := client.Images().Upload(ctx, checkerPNG(t), Meta{OriginalName: "checker.png"}); err != nil {
		t.Fatalf("Upload checker: %v", err)
	}

	resp, err := client.Search(gradient).TopK(5).Do(ctx)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Signals.Embedding {
		t.Error("embedding signal reported usable without a provider")
	}
	if !resp.Signals.Hash || !resp.Signals.Color {
		t.Errorf("signals = %+v", resp.Signals)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results for an exact stored image")
	}
	if resp.Results[0].ImageID != up.Image.ID {
		t.Errorf("top result = %d, want %d", resp.Results[0].ImageID, up.Image.ID)
	}
	if resp.Results[0].HashDistance == nil || *resp.Results[0].HashDistance != 0 {
		t.Errorf("top hash distance = %v, want 0", resp.Results[0].HashDistance)
	}

	similar, err := client.SimilarTo(up.Image.ID).TopK(5).Do(ctx)
	if err != nil {
		t.Fatalf("SimilarTo: %v", err)
	}
	for _, hit := range similar.Results {
		if hit.ImageID == up.Image.ID {
			t.Error("seed image present in its own similarity results")
		}
	}
}

func TestClientReindex(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	if _, err := client.Images().Upload(ctx, gradientPNG(t), Meta{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := client.Images().Upload(ctx, checkerPNG(t), Meta{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	sum, err := client.Reindex().Hashes(ctx)
	if err != nil {
		t.Fatalf("Reindex hashes: %v", err)
	}
	if sum.Requested != 2 || sum.Processed != 2 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := client.Reindex().Colors(ctx); err != nil {
		t.Fatalf("Reindex colors: %v", err)
	}
}
