package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"net/http"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/imaging"
	"github.com/lensquery/lensquery/internal/signal/colorhist"
	"github.com/lensquery/lensquery/internal/signal/dhash"
)

// nearDupThreshold is the maximum perceptual hash distance below which an
// upload is rejected as a near duplicate of a stored image.
const nearDupThreshold = 10

// Per-signal outcome labels reported back to the uploader.
const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// Upload carries one incoming image and its caller-supplied metadata.
type Upload struct {
	Data         []byte
	OriginalName string
	Title        string
	Description  string
	Tags         string
}

// SignalStatus reports the outcome of each extraction step. A failed signal
// never fails the upload; the image stays searchable by the signals that
// did land, and reindexing can fill the gaps.
type SignalStatus struct {
	Hashes    string `json:"hashes"`
	Colors    string `json:"colors"`
	Embedding string `json:"embedding"`
	Regions   string `json:"regions"`
}

// Result is the response to a successful upload.
type Result struct {
	Image   domain.Image `json:"image"`
	Signals SignalStatus `json:"signals"`
}

// Service handles the image library lifecycle: gated uploads with signal
// extraction, metadata edits, and deletion.
type Service struct {
	images   ImageStore
	signals  SignalWriter
	blobs    BlobStore
	embedder domain.ImageEmbedder
	regions  RegionEmbedder
	corpus   CorpusInvalidator
	settings Settings
	logger   *zap.Logger
}

// New creates an ingestion service.
func New(
	images ImageStore,
	signals SignalWriter,
	blobs BlobStore,
	embedder domain.ImageEmbedder,
	regions RegionEmbedder,
	corpus CorpusInvalidator,
	settings Settings,
	logger *zap.Logger,
) *Service {
	return &Service{
		images:   images,
		signals:  signals,
		blobs:    blobs,
		embedder: embedder,
		regions:  regions,
		corpus:   corpus,
		settings: settings,
		logger:   logger,
	}
}

// Upload runs the full ingestion pipeline: duplicate gates, blob storage,
// the image row, then best-effort signal extraction.
func (s *Service) Upload(ctx context.Context, up Upload) (Result, error) {
	if len(up.Data) == 0 {
		return Result{}, fmt.Errorf("empty upload: %w", domain.ErrInvalidArgument)
	}

	sum := sha256.Sum256(up.Data)
	contentHash := hex.EncodeToString(sum[:])
	existing, err := s.images.FindByContentHash(ctx, contentHash)
	if err == nil {
		return Result{}, fmt.Errorf("content identical to image %d: %w",
			existing.ID, domain.ErrDuplicateImage)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, fmt.Errorf("duplicate lookup: %w", err)
	}

	decoded, err := imaging.Decode(up.Data)
	if err != nil {
		return Result{}, err
	}

	phash, err := s.nearDuplicateGate(ctx, decoded)
	if err != nil {
		return Result{}, err
	}

	mime := http.DetectContentType(up.Data)
	filename := uuid.NewString() + extFor(mime)
	path, err := s.blobs.Save(filename, up.Data)
	if err != nil {
		return Result{}, fmt.Errorf("store blob: %w", err)
	}

	bounds := decoded.Bounds()
	img := &domain.Image{
		Filename:     filename,
		OriginalName: up.OriginalName,
		StoragePath:  path,
		Size:         int64(len(up.Data)),
		MimeType:     mime,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Title:        up.Title,
		Description:  up.Description,
		Tags:         up.Tags,
		ContentHash:  contentHash,
		PHash:        phash,
	}
	if _, err := s.images.Insert(ctx, img); err != nil {
		if rmErr := s.blobs.Remove(filename); rmErr != nil {
			s.logger.Warn("Orphan blob cleanup failed",
				zap.String("filename", filename), zap.Error(rmErr))
		}
		return Result{}, fmt.Errorf("insert image: %w", err)
	}

	status := s.extractSignals(ctx, img.ID, up.Data, decoded)
	s.corpus.Invalidate()

	s.logger.Info("Image ingested",
		zap.Int64("id", img.ID),
		zap.String("filename", filename),
		zap.String("embedding", status.Embedding))
	return Result{Image: *img, Signals: status}, nil
}

// nearDuplicateGate hashes the upload and rejects it when a stored image
// sits within nearDupThreshold bits. Hashing failures degrade to acceptance
// so an exotic format never blocks ingestion.
func (s *Service) nearDuplicateGate(ctx context.Context, img image.Image) (string, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		s.logger.Warn("Perceptual hashing failed, near-duplicate gate skipped", zap.Error(err))
		return "", nil
	}

	stored, err := s.images.PHashes(ctx)
	if err != nil {
		return "", fmt.Errorf("load perceptual hashes: %w", err)
	}
	for id, raw := range stored {
		other, err := goimagehash.ImageHashFromString(raw)
		if err != nil {
			continue
		}
		dist, err := hash.Distance(other)
		if err == nil && dist < nearDupThreshold {
			return "", fmt.Errorf("near duplicate of image %d (distance %d): %w",
				id, dist, domain.ErrDuplicateImage)
		}
	}
	return hash.ToString(), nil
}

// extractSignals derives and persists every search signal for a stored
// image. Steps run sequentially and fail independently.
func (s *Service) extractSignals(ctx context.Context, imageID int64, raw []byte, decoded image.Image) SignalStatus {
	status := SignalStatus{
		Hashes:    statusOK,
		Colors:    statusOK,
		Embedding: statusOK,
		Regions:   statusSkipped,
	}

	if err := s.signals.ReplaceHashes(ctx, imageID, dhash.Records(decoded)); err != nil {
		status.Hashes = statusFailed
		s.logger.Warn("Hash extraction failed", zap.Int64("image_id", imageID), zap.Error(err))
	}

	if err := s.signals.ReplaceColors(ctx, imageID, colorhist.Records(decoded)); err != nil {
		status.Colors = statusFailed
		s.logger.Warn("Color extraction failed", zap.Int64("image_id", imageID), zap.Error(err))
	}

	result, err := s.embedder.Embed(ctx, raw)
	if err != nil {
		status.Embedding = statusFailed
		s.logger.Warn("Embedding failed", zap.Int64("image_id", imageID), zap.Error(err))
	} else if err := s.signals.UpsertEmbedding(ctx, domain.EmbeddingRecord{
		ImageID:   imageID,
		ModelID:   result.ModelID,
		Dimension: result.Dimension,
		Vector:    result.Vector,
	}); err != nil {
		status.Embedding = statusFailed
		s.logger.Warn("Embedding persistence failed", zap.Int64("image_id", imageID), zap.Error(err))
	}

	if s.settings.Snapshot().RobustRecovery {
		status.Regions = s.extractRegions(ctx, imageID, raw)
	}
	return status
}

func (s *Service) extractRegions(ctx context.Context, imageID int64, raw []byte) string {
	recs, err := s.regions.EmbedRegions(ctx, imageID, raw)
	if err != nil {
		s.logger.Warn("Region embedding failed", zap.Int64("image_id", imageID), zap.Error(err))
		return statusFailed
	}
	if err := s.signals.ReplaceRegions(ctx, imageID, s.regions.ModelID(), recs); err != nil {
		s.logger.Warn("Region persistence failed", zap.Int64("image_id", imageID), zap.Error(err))
		return statusFailed
	}
	return statusOK
}

// Get returns a stored image by ID.
func (s *Service) Get(ctx context.Context, id int64) (domain.Image, error) {
	return s.images.Get(ctx, id)
}

// List returns a page of stored images, newest first, plus the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Image, int, error) {
	return s.images.List(ctx, limit, offset)
}

// UpdateMeta replaces the user-editable metadata of an image and returns
// the updated row. Cached corpus snapshots carry display metadata, so the
// cache is invalidated.
func (s *Service) UpdateMeta(ctx context.Context, id int64, title, description, tags string) (domain.Image, error) {
	if err := s.images.UpdateMeta(ctx, id, title, description, tags); err != nil {
		return domain.Image{}, err
	}
	s.corpus.Invalidate()
	return s.images.Get(ctx, id)
}

// Delete removes an image, its signal rows (via cascade), and its blob.
func (s *Service) Delete(ctx context.Context, id int64) error {
	img, err := s.images.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.images.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Remove(img.Filename); err != nil {
		s.logger.Warn("Blob removal failed", zap.String("filename", img.Filename), zap.Error(err))
	}
	s.corpus.Invalidate()
	s.logger.Info("Image deleted", zap.Int64("id", id))
	return nil
}

// extFor maps a sniffed MIME type to a storage filename extension.
func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
