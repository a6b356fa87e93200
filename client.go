package lensquery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/cache"
	"github.com/lensquery/lensquery/internal/db"
	"github.com/lensquery/lensquery/internal/db/memkv"
	"github.com/lensquery/lensquery/internal/db/sqlite"
	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/metrics"
	"github.com/lensquery/lensquery/internal/repository/blobs"
	"github.com/lensquery/lensquery/internal/repository/embcache"
	imagesrepo "github.com/lensquery/lensquery/internal/repository/images"
	signalsrepo "github.com/lensquery/lensquery/internal/repository/signals"
	openaiEmb "github.com/lensquery/lensquery/internal/transport/openai"
	embeddinguc "github.com/lensquery/lensquery/internal/usecase/embedding"
	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
)

const (
	defaultDataDir       = "data"
	defaultModel         = "clip-ViT-B-32"
	defaultCacheCapacity = 4096
	defaultCacheTTL      = 7 * 24 * time.Hour
)

// Client is the embedded lensquery entry point. It owns the SQLite
// connection, the blob directory and the embedding cache; Close releases
// all of them.
type Client struct {
	conn     *sql.DB
	kv       db.KVStore
	settings *domain.Settings

	library   *ingestuc.Service
	searchSvc *searchuc.Service
	indexSvc  *indexuc.Service
}

// New creates a Client, opening (and migrating) the database under the
// data directory.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		dataDir:        defaultDataDir,
		embeddingModel: defaultModel,
		cacheCapacity:  defaultCacheCapacity,
		cacheTTL:       defaultCacheTTL,
		augmentation:   true,
	}
	for _, o := range opts {
		o.apply(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lensquery: create data dir: %w", err)
	}
	conn, err := sqlite.Open(filepath.Join(cfg.dataDir, "lensquery.db"))
	if err != nil {
		return nil, fmt.Errorf("lensquery: open database: %w", err)
	}
	if err := sqlite.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lensquery: migrate database: %w", err)
	}

	blobStore, err := blobs.New(filepath.Join(cfg.dataDir, "blobs"))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lensquery: create blob store: %w", err)
	}

	return wireClient(conn, blobStore, cfg, logger), nil
}

func wireClient(conn *sql.DB, blobStore *blobs.Store, cfg *clientConfig, logger *zap.Logger) *Client {
	kv := memkv.NewStore(cfg.cacheCapacity)

	imagesRepo := imagesrepo.New(conn)
	signalsRepo := signalsrepo.New(conn)

	settings := domain.NewSettings(cfg.augmentation, cfg.robustRecovery)

	var base domain.ImageEmbedder = noopEmbedder{}
	if cfg.embeddingBaseURL != "" {
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:  cfg.embeddingAPIKey,
			BaseURL: cfg.embeddingBaseURL,
			Model:   cfg.embeddingModel,
			Logger:  logger,
		})
	}
	rawCached := embcache.New(base, kv, "raw", cfg.cacheTTL, metrics.EmbeddingCacheTotal, logger)
	augmented := embeddinguc.NewAugmented(rawCached, settings, logger)
	embedder := embcache.New(augmented, kv, "aug", cfg.cacheTTL, metrics.EmbeddingCacheTotal, logger)
	regionEmb := embeddinguc.NewRegions(rawCached, logger)

	corpus := cache.NewCorpus(signalsRepo)

	return &Client{
		conn:      conn,
		kv:        kv,
		settings:  settings,
		library:   ingestuc.New(imagesRepo, signalsRepo, blobStore, rawCached, regionEmb, corpus, settings, logger),
		searchSvc: searchuc.New(signalsRepo, imagesRepo, blobStore, corpus, embedder, rawCached, settings, logger),
		indexSvc:  indexuc.New(imagesRepo, blobStore, signalsRepo, rawCached, regionEmb, corpus, logger),
	}
}

// Close releases the database connection and the embedding cache.
func (c *Client) Close() error {
	c.kv.Close()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("lensquery: close database: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("lensquery: ping: %w", err)
	}
	return nil
}

// Images returns the library service.
func (c *Client) Images() *ImageService {
	return &ImageService{svc: c.library}
}

// Search starts a similarity query for the given image bytes.
func (c *Client) Search(image []byte) *SearchBuilder {
	return &SearchBuilder{svc: c.searchSvc, image: image}
}

// SimilarTo starts a similarity query seeded by a stored image. The seed
// itself is excluded from the results.
func (c *Client) SimilarTo(imageID int64) *SearchBuilder {
	return &SearchBuilder{svc: c.searchSvc, imageID: imageID}
}

// Reindex returns the signal rebuild service.
func (c *Client) Reindex() *ReindexService {
	return &ReindexService{svc: c.indexSvc}
}

// SetAugmentation toggles query-time augmentation pooling at runtime.
func (c *Client) SetAugmentation(enabled bool) {
	c.settings.SetAugmentation(enabled)
}

// SetRobustRecovery toggles region indexing and region rerank at runtime.
func (c *Client) SetRobustRecovery(enabled bool) {
	c.settings.SetRobustRecovery(enabled)
}

// noopEmbedder fails every call; used when no provider is configured so
// the rest of the pipeline degrades to hash and color signals.
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ []byte) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"lensquery: embedding provider not configured (use WithEmbedding)",
	)
}

func (noopEmbedder) ModelID() string { return "none" }
