package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDecode signals image bytes that cannot be interpreted as a raster image.
	ErrDecode = errors.New("image decode failed")
	// ErrNoSignals signals that no query signal could be computed at all.
	ErrNoSignals = errors.New("no usable query signals")
	// ErrEmbeddingProvider signals an embedding backend failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrDuplicateImage signals a content-identical or near-duplicate upload.
	ErrDuplicateImage = errors.New("duplicate image")
	// ErrInvalidArgument signals a malformed caller-supplied value.
	ErrInvalidArgument = errors.New("invalid argument")
)
