package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/cache"
	"github.com/lensquery/lensquery/internal/config"
	"github.com/lensquery/lensquery/internal/db"
	"github.com/lensquery/lensquery/internal/db/memkv"
	"github.com/lensquery/lensquery/internal/db/rediskv"
	"github.com/lensquery/lensquery/internal/db/sqlite"
	"github.com/lensquery/lensquery/internal/domain"
	logpkg "github.com/lensquery/lensquery/internal/logger"
	"github.com/lensquery/lensquery/internal/metrics"
	"github.com/lensquery/lensquery/internal/repository/blobs"
	"github.com/lensquery/lensquery/internal/repository/embcache"
	imagesrepo "github.com/lensquery/lensquery/internal/repository/images"
	signalsrepo "github.com/lensquery/lensquery/internal/repository/signals"
	chiTransport "github.com/lensquery/lensquery/internal/transport/chi"
	openaiEmb "github.com/lensquery/lensquery/internal/transport/openai"
	embeddinguc "github.com/lensquery/lensquery/internal/usecase/embedding"
	healthuc "github.com/lensquery/lensquery/internal/usecase/health"
	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
	"github.com/lensquery/lensquery/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting lensquery API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_path", cfg.Database.Path),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Relational store
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Fatal("Failed to create database directory", zap.Error(err))
	}
	conn, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer conn.Close()

	ctx := context.Background()
	if err := sqlite.Migrate(ctx, conn); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database ready")

	// Embedding cache backend
	var kv db.KVStore
	switch cfg.Cache.Driver {
	case "memory":
		kv = memkv.NewStore(cfg.Cache.MemoryCapacity)
	case "redis":
		kv, err = rediskv.NewStore(rediskv.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown cache driver", zap.String("driver", cfg.Cache.Driver))
	}
	defer kv.Close()

	// Blob storage for original images
	blobStore, err := blobs.New(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal("Failed to create blob storage", zap.Error(err))
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Repositories
	imagesRepo := imagesrepo.New(conn)
	signalsRepo := signalsrepo.New(conn)

	// Runtime-mutable search defaults
	settings := domain.NewSettings(cfg.Search.AugmentationEnabled(), cfg.Search.RobustRecovery)

	// Embedder chain: provider -> raw cache -> augmentation -> pooled cache.
	// Ingest, reindex and the region embedder tap the raw-cache layer so
	// stored vectors are plain single embeddings; the pooled chain serves
	// queries with augmentation on.
	cacheTTL := time.Duration(cfg.Cache.EmbeddingTTLSec) * time.Second
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Logger:  logger,
	})
	rawCached := embcache.New(base, kv, "raw", cacheTTL, metrics.EmbeddingCacheTotal, logger)
	augmented := embeddinguc.NewAugmented(rawCached, settings, logger)
	embedder := embcache.New(augmented, kv, "aug", cacheTTL, metrics.EmbeddingCacheTotal, logger)
	regionEmb := embeddinguc.NewRegions(rawCached, logger)
	logger.Info("Embedder chain created",
		zap.String("model", cfg.Embedding.Model),
		zap.String("base_url", cfg.Embedding.BaseURL),
	)

	// In-memory corpus snapshots fed by the signals repository
	corpus := cache.NewCorpus(signalsRepo)

	// Use case services
	ingestSvc := ingestuc.New(imagesRepo, signalsRepo, blobStore, rawCached, regionEmb, corpus, settings, logger)
	searchSvc := searchuc.New(signalsRepo, imagesRepo, blobStore, corpus, embedder, rawCached, settings, logger)
	indexSvc := indexuc.New(imagesRepo, blobStore, signalsRepo, rawCached, regionEmb, corpus, logger)
	healthSvc := healthuc.New(conn, base, kv)

	// HTTP server
	server := chiTransport.NewServer(ingestSvc, searchSvc, indexSvc, healthSvc,
		blobStore, corpus, settings, cfg.HTTP.MaxUploadMB, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
