package lensquery

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	dataDir string

	embeddingBaseURL string
	embeddingAPIKey  string
	embeddingModel   string

	cacheCapacity int
	cacheTTL      time.Duration

	augmentation   bool
	robustRecovery bool

	logger *zap.Logger
}

// WithDataDir sets the directory holding the SQLite database and the blob
// store. Created if missing. Defaults to "data".
func WithDataDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.dataDir = dir
	})
}

// WithEmbedding configures the CLIP embedding provider. Without it the
// semantic signal is disabled and searches rely on hashes and colors.
func WithEmbedding(baseURL, apiKey, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingBaseURL = baseURL
		c.embeddingAPIKey = apiKey
		if model != "" {
			c.embeddingModel = model
		}
	})
}

// WithCacheCapacity bounds the in-memory query-embedding cache.
func WithCacheCapacity(entries int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheCapacity = entries
	})
}

// WithCacheTTL sets the lifetime of cached query embeddings.
func WithCacheTTL(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheTTL = ttl
	})
}

// WithAugmentation toggles query-time augmentation pooling. On by default.
func WithAugmentation(enabled bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.augmentation = enabled
	})
}

// WithRobustRecovery enables region indexing at upload and region rerank
// at search time. Off by default; it multiplies provider calls.
func WithRobustRecovery(enabled bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.robustRecovery = enabled
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = logger
	})
}
