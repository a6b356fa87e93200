package lensquery

import "github.com/lensquery/lensquery/internal/domain"

// Sentinel errors returned by the client, matchable with errors.Is.
var (
	ErrNotFound          = domain.ErrNotFound
	ErrDecode            = domain.ErrDecode
	ErrNoSignals         = domain.ErrNoSignals
	ErrEmbeddingProvider = domain.ErrEmbeddingProvider
	ErrDuplicateImage    = domain.ErrDuplicateImage
	ErrInvalidArgument   = domain.ErrInvalidArgument
)
