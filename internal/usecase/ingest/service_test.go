package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/corona10/goimagehash"
	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/signal/dhash"
)

type fakeImages struct {
	images    map[int64]domain.Image
	phashes   map[int64]string
	nextID    int64
	insertErr error
}

func newFakeImages() *fakeImages {
	return &fakeImages{images: map[int64]domain.Image{}, phashes: map[int64]string{}, nextID: 1}
}

func (f *fakeImages) Insert(_ context.Context, img *domain.Image) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	img.ID = f.nextID
	f.nextID++
	f.images[img.ID] = *img
	return img.ID, nil
}

func (f *fakeImages) Get(_ context.Context, id int64) (domain.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return domain.Image{}, domain.ErrNotFound
	}
	return img, nil
}

func (f *fakeImages) FindByContentHash(_ context.Context, hash string) (domain.Image, error) {
	for _, img := range f.images {
		if img.ContentHash == hash {
			return img, nil
		}
	}
	return domain.Image{}, domain.ErrNotFound
}

func (f *fakeImages) PHashes(context.Context) (map[int64]string, error) {
	return f.phashes, nil
}

func (f *fakeImages) List(_ context.Context, _, _ int) ([]domain.Image, int, error) {
	out := make([]domain.Image, 0, len(f.images))
	for _, img := range f.images {
		out = append(out, img)
	}
	return out, len(out), nil
}

func (f *fakeImages) UpdateMeta(_ context.Context, id int64, title, description, tags string) error {
	img, ok := f.images[id]
	if !ok {
		return domain.ErrNotFound
	}
	img.Title, img.Description, img.Tags = title, description, tags
	f.images[id] = img
	return nil
}

func (f *fakeImages) Delete(_ context.Context, id int64) error {
	if _, ok := f.images[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.images, id)
	return nil
}

type fakeSignals struct {
	hashes   map[int64][]domain.HashRecord
	colors   map[int64][]domain.ColorRecord
	embeds   []domain.EmbeddingRecord
	regions  map[int64][]domain.RegionRecord
	embedErr error
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{
		hashes:  map[int64][]domain.HashRecord{},
		colors:  map[int64][]domain.ColorRecord{},
		regions: map[int64][]domain.RegionRecord{},
	}
}

func (f *fakeSignals) ReplaceHashes(_ context.Context, imageID int64, hashes []domain.HashRecord) error {
	f.hashes[imageID] = hashes
	return nil
}

func (f *fakeSignals) ReplaceColors(_ context.Context, imageID int64, colors []domain.ColorRecord) error {
	f.colors[imageID] = colors
	return nil
}

func (f *fakeSignals) UpsertEmbedding(_ context.Context, rec domain.EmbeddingRecord) error {
	if f.embedErr != nil {
		return f.embedErr
	}
	f.embeds = append(f.embeds, rec)
	return nil
}

func (f *fakeSignals) ReplaceRegions(_ context.Context, imageID int64, _ string, regions []domain.RegionRecord) error {
	f.regions[imageID] = regions
	return nil
}

type fakeBlobs struct {
	saved   map[string][]byte
	removed []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{saved: map[string][]byte{}}
}

func (f *fakeBlobs) Save(filename string, data []byte) (string, error) {
	f.saved[filename] = data
	return "/data/" + filename, nil
}

func (f *fakeBlobs) Remove(filename string) error {
	f.removed = append(f.removed, filename)
	delete(f.saved, filename)
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, []byte) (domain.EmbeddingResult, error) {
	f.calls++
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{Vector: []float32{1, 0}, ModelID: "clip-test", Dimension: 2}, nil
}

func (f *fakeEmbedder) ModelID() string { return "clip-test" }

type fakeRegions struct {
	err   error
	calls int
}

func (f *fakeRegions) EmbedRegions(_ context.Context, imageID int64, _ []byte) ([]domain.RegionRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []domain.RegionRecord{{
		ImageID: imageID, ModelID: "clip-test", GridSize: 7, Overlap: 0.5,
		Rect: domain.Rect{X: 0, Y: 0, W: 8, H: 8}, Dimension: 2, Vector: []float32{1, 0},
	}}, nil
}

func (f *fakeRegions) ModelID() string { return "clip-test" }

type fakeCorpus struct {
	invalidations int
}

func (f *fakeCorpus) Invalidate() { f.invalidations++ }

type fakeSettings struct {
	robust bool
}

func (f *fakeSettings) Snapshot() domain.SettingsSnapshot {
	return domain.SettingsSnapshot{Augmentation: false, RobustRecovery: f.robust}
}

type env struct {
	images   *fakeImages
	signals  *fakeSignals
	blobs    *fakeBlobs
	embedder *fakeEmbedder
	regions  *fakeRegions
	corpus   *fakeCorpus
	settings *fakeSettings
	svc      *Service
}

func newEnv() *env {
	e := &env{
		images:   newFakeImages(),
		signals:  newFakeSignals(),
		blobs:    newFakeBlobs(),
		embedder: &fakeEmbedder{},
		regions:  &fakeRegions{},
		corpus:   &fakeCorpus{},
		settings: &fakeSettings{},
	}
	e.svc = New(e.images, e.signals, e.blobs, e.embedder, e.regions, e.corpus, e.settings, zap.NewNop())
	return e
}

func testPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*8) + seed,
				G: uint8(y * 8),
				B: seed,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadStoresImageAndSignals(t *testing.T) {
	e := newEnv()
	data := testPNG(t, 0)

	res, err := e.svc.Upload(context.Background(), Upload{
		Data: data, OriginalName: "cat.png", Title: "Cat",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Image.ID == 0 {
		t.Fatal("expected an assigned image ID")
	}
	if res.Image.MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", res.Image.MimeType)
	}
	if !strings.HasSuffix(res.Image.Filename, ".png") {
		t.Errorf("filename %q missing extension", res.Image.Filename)
	}
	if res.Image.Width != 32 || res.Image.Height != 32 {
		t.Errorf("dims = %dx%d, want 32x32", res.Image.Width, res.Image.Height)
	}
	if res.Image.ContentHash == "" || res.Image.PHash == "" {
		t.Error("expected content hash and phash to be set")
	}
	if _, ok := e.blobs.saved[res.Image.Filename]; !ok {
		t.Error("blob not saved")
	}

	want := SignalStatus{Hashes: "ok", Colors: "ok", Embedding: "ok", Regions: "skipped"}
	if res.Signals != want {
		t.Errorf("signals = %+v, want %+v", res.Signals, want)
	}

	hashes := e.signals.hashes[res.Image.ID]
	if len(hashes) == 0 {
		t.Fatal("no hash records stored")
	}
	if hashes[0].TileIndex != domain.WholeImageTile {
		t.Errorf("first hash tile = %d, want whole-image marker", hashes[0].TileIndex)
	}
	wantTiles := 1 + 9 + 16 + 25
	overlapped := 0
	for _, h := range hashes {
		if h.Stride == dhash.OverlapStridePercent {
			overlapped++
		}
	}
	if len(hashes)-overlapped != wantTiles {
		t.Errorf("non-overlap hash rows = %d, want %d", len(hashes)-overlapped, wantTiles)
	}
	if overlapped == 0 {
		t.Error("no overlapping hash rows stored")
	}

	if got := len(e.signals.colors[res.Image.ID]); got != 4 {
		t.Errorf("color variants = %d, want 4", got)
	}
	if len(e.signals.embeds) != 1 || e.signals.embeds[0].ModelID != "clip-test" {
		t.Errorf("embeds = %+v, want one clip-test record", e.signals.embeds)
	}
	if e.regions.calls != 0 {
		t.Error("regions computed with robust recovery off")
	}
	if e.corpus.invalidations != 1 {
		t.Errorf("corpus invalidations = %d, want 1", e.corpus.invalidations)
	}
}

func TestUploadExactDuplicate(t *testing.T) {
	e := newEnv()
	data := testPNG(t, 0)

	if _, err := e.svc.Upload(context.Background(), Upload{Data: data}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := e.svc.Upload(context.Background(), Upload{Data: data})
	if !errors.Is(err, domain.ErrDuplicateImage) {
		t.Fatalf("err = %v, want ErrDuplicateImage", err)
	}
}

func TestUploadNearDuplicate(t *testing.T) {
	e := newEnv()
	data := testPNG(t, 0)

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		t.Fatalf("phash: %v", err)
	}
	e.images.phashes[7] = hash.ToString()

	// Different bytes (so no content hash match) that decode to the same
	// pixels: re-encode without compression.
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if bytes.Equal(buf.Bytes(), data) {
		t.Fatal("re-encoded fixture should differ byte-wise")
	}

	_, err = e.svc.Upload(context.Background(), Upload{Data: buf.Bytes()})
	if !errors.Is(err, domain.ErrDuplicateImage) {
		t.Fatalf("err = %v, want ErrDuplicateImage", err)
	}
	if len(e.blobs.saved) != 0 {
		t.Error("blob stored for a rejected upload")
	}
}

func TestUploadDecodeError(t *testing.T) {
	e := newEnv()
	_, err := e.svc.Upload(context.Background(), Upload{Data: []byte("not an image")})
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if len(e.blobs.saved) != 0 {
		t.Error("blob stored for an undecodable upload")
	}
}

func TestUploadEmptyData(t *testing.T) {
	e := newEnv()
	_, err := e.svc.Upload(context.Background(), Upload{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestUploadEmbedderFailureIsNotFatal(t *testing.T) {
	e := newEnv()
	e.embedder.err = errors.New("provider down")

	res, err := e.svc.Upload(context.Background(), Upload{Data: testPNG(t, 0)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Signals.Embedding != "failed" {
		t.Errorf("embedding status = %q, want failed", res.Signals.Embedding)
	}
	if res.Signals.Hashes != "ok" || res.Signals.Colors != "ok" {
		t.Errorf("hash/color signals should still land: %+v", res.Signals)
	}
	if len(e.signals.embeds) != 0 {
		t.Error("embedding stored despite provider failure")
	}
}

func TestUploadRegionsWhenRobustRecoveryOn(t *testing.T) {
	e := newEnv()
	e.settings.robust = true

	res, err := e.svc.Upload(context.Background(), Upload{Data: testPNG(t, 0)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Signals.Regions != "ok" {
		t.Errorf("regions status = %q, want ok", res.Signals.Regions)
	}
	if len(e.signals.regions[res.Image.ID]) != 1 {
		t.Errorf("region records = %d, want 1", len(e.signals.regions[res.Image.ID]))
	}
}

func TestUploadInsertFailureCleansBlob(t *testing.T) {
	e := newEnv()
	e.images.insertErr = errors.New("disk full")

	_, err := e.svc.Upload(context.Background(), Upload{Data: testPNG(t, 0)})
	if err == nil {
		t.Fatal("expected insert error")
	}
	if len(e.blobs.saved) != 0 || len(e.blobs.removed) != 1 {
		t.Errorf("orphan blob not cleaned: saved=%d removed=%d",
			len(e.blobs.saved), len(e.blobs.removed))
	}
}

func TestDeleteRemovesBlobAndInvalidates(t *testing.T) {
	e := newEnv()
	res, err := e.svc.Upload(context.Background(), Upload{Data: testPNG(t, 0)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	e.corpus.invalidations = 0

	if err := e.svc.Delete(context.Background(), res.Image.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(e.blobs.removed) != 1 || e.blobs.removed[0] != res.Image.Filename {
		t.Errorf("removed = %v, want [%s]", e.blobs.removed, res.Image.Filename)
	}
	if e.corpus.invalidations != 1 {
		t.Errorf("corpus invalidations = %d, want 1", e.corpus.invalidations)
	}

	if err := e.svc.Delete(context.Background(), res.Image.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMeta(t *testing.T) {
	e := newEnv()
	res, err := e.svc.Upload(context.Background(), Upload{Data: testPNG(t, 0), Title: "Old"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	e.corpus.invalidations = 0

	got, err := e.svc.UpdateMeta(context.Background(), res.Image.ID, "New", "desc", "a,b")
	if err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if got.Title != "New" || got.Description != "desc" || got.Tags != "a,b" {
		t.Errorf("updated image = %+v", got)
	}
	if e.corpus.invalidations != 1 {
		t.Errorf("corpus invalidations = %d, want 1", e.corpus.invalidations)
	}

	if _, err := e.svc.UpdateMeta(context.Background(), 999, "x", "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing image err = %v, want ErrNotFound", err)
	}
}
