package lensquery

import (
	"context"
	"fmt"

	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
)

// ImageService manages the image library.
type ImageService struct {
	svc *ingestuc.Service
}

// Meta carries optional upload metadata.
type Meta struct {
	OriginalName string
	Title        string
	Description  string
	Tags         string
}

// Upload stores an image and extracts its signals. Exact and near
// duplicates are rejected with ErrDuplicateImage.
func (s *ImageService) Upload(ctx context.Context, data []byte, meta Meta) (UploadResult, error) {
	res, err := s.svc.Upload(ctx, ingestuc.Upload{
		Data:         data,
		OriginalName: meta.OriginalName,
		Title:        meta.Title,
		Description:  meta.Description,
		Tags:         meta.Tags,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	return fromUploadResult(res), nil
}

// Get returns one image by id.
func (s *ImageService) Get(ctx context.Context, id int64) (Image, error) {
	img, err := s.svc.Get(ctx, id)
	if err != nil {
		return Image{}, fmt.Errorf("get image: %w", err)
	}
	return fromDomainImage(img), nil
}

// List returns a page of images plus the total count.
func (s *ImageService) List(ctx context.Context, limit, offset int) ([]Image, int, error) {
	imgs, total, err := s.svc.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	return fromDomainImages(imgs), total, nil
}

// UpdateMeta replaces the title, description and tags of an image.
func (s *ImageService) UpdateMeta(ctx context.Context, id int64, title, description, tags string) (Image, error) {
	img, err := s.svc.UpdateMeta(ctx, id, title, description, tags)
	if err != nil {
		return Image{}, fmt.Errorf("update image: %w", err)
	}
	return fromDomainImage(img), nil
}

// Delete removes an image, its blob and all derived signal records.
func (s *ImageService) Delete(ctx context.Context, id int64) error {
	if err := s.svc.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}
