// Package chi exposes the HTTP API: image library CRUD, multi-signal
// similarity search, runtime settings, and reindexing.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lensquery/lensquery/internal/domain"
	logpkg "github.com/lensquery/lensquery/internal/logger"
	healthuc "github.com/lensquery/lensquery/internal/usecase/health"
	indexuc "github.com/lensquery/lensquery/internal/usecase/index"
	ingestuc "github.com/lensquery/lensquery/internal/usecase/ingest"
	searchuc "github.com/lensquery/lensquery/internal/usecase/search"
)

// Library is the image lifecycle service consumed by the handlers.
type Library interface {
	Upload(ctx context.Context, up ingestuc.Upload) (ingestuc.Result, error)
	Get(ctx context.Context, id int64) (domain.Image, error)
	List(ctx context.Context, limit, offset int) ([]domain.Image, int, error)
	UpdateMeta(ctx context.Context, id int64, title, description, tags string) (domain.Image, error)
	Delete(ctx context.Context, id int64) error
}

// Searcher runs similarity searches.
type Searcher interface {
	SearchByImage(ctx context.Context, image []byte, opts searchuc.Options) (*searchuc.Response, error)
	SearchByID(ctx context.Context, id int64, opts searchuc.Options) (*searchuc.Response, error)
}

// Reindexer rebuilds stored signals.
type Reindexer interface {
	ReindexHashes(ctx context.Context) (indexuc.Summary, error)
	ReindexColors(ctx context.Context) (indexuc.Summary, error)
	ReindexEmbeddings(ctx context.Context) (indexuc.Summary, error)
	ReindexRegions(ctx context.Context, clear bool) (indexuc.Summary, error)
}

// HealthChecker aggregates component availability.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// BlobReader serves stored originals.
type BlobReader interface {
	Read(filename string) ([]byte, error)
}

// CorpusCache exposes the corpus snapshot cache to the admin surface.
type CorpusCache interface {
	Stats() map[string]int
	Invalidate()
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	library       Library
	search        Searcher
	reindex       Reindexer
	health        HealthChecker
	blobs         BlobReader
	corpus        CorpusCache
	settings      *domain.Settings
	maxUploadSize int64
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. maxUploadMB bounds incoming image
// payloads.
func NewServer(
	library Library,
	search Searcher,
	reindex Reindexer,
	health HealthChecker,
	blobs BlobReader,
	corpus CorpusCache,
	settings *domain.Settings,
	maxUploadMB int,
	logger *zap.Logger,
) *Server {
	s := &Server{
		library:       library,
		search:        search,
		reindex:       reindex,
		health:        health,
		blobs:         blobs,
		corpus:        corpus,
		settings:      settings,
		maxUploadSize: int64(maxUploadMB) << 20,
		logger:        logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrDecode, http.StatusBadRequest, codeDecodeFailed),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDuplicateImage, http.StatusConflict, codeDuplicateImage),
		sentinelHandler(domain.ErrNoSignals, http.StatusUnprocessableEntity, codeNoSignals),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, codeEmbeddingProvider),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Patch("/", s.handleUpdateMeta)
				r.Delete("/", s.handleDelete)
				r.Get("/file", s.handleFile)
				r.Get("/similar", s.handleSearchByID)
			})
		})
		r.Post("/search", s.handleSearch)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Post("/reindex/{signal}", s.handleReindex)
		r.Post("/cache/clear", s.handleCacheClear)
		r.Get("/stats", s.handleStats)
	})
}

// handleUpload handles POST /api/images (multipart form).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, form, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	result, err := s.library.Upload(r.Context(), ingestuc.Upload{
		Data:         data,
		OriginalName: form.filename,
		Title:        form.get("title"),
		Description:  form.get("description"),
		Tags:         form.get("tags"),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleList handles GET /api/images.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	offset := intQuery(r, "offset", 0)

	images, total, err := s.library.List(r.Context(), limit, offset)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"images": images,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGet handles GET /api/images/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	img, err := s.library.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// handleFile handles GET /api/images/{id}/file, serving the original bytes.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	img, err := s.library.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	data, err := s.blobs.Read(img.Filename)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// handleUpdateMeta handles PATCH /api/images/{id}.
func (s *Server) handleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Tags        string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	img, err := s.library.UpdateMeta(r.Context(), id, req.Title, req.Description, req.Tags)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// handleDelete handles DELETE /api/images/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.library.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch handles POST /api/search (multipart form with the query image).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	data, form, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	resp, err := s.search.SearchByImage(r.Context(), data, optionsFromValues(form.get))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSearchByID handles GET /api/images/{id}/similar.
func (s *Server) handleSearchByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	resp, err := s.search.SearchByID(r.Context(), id, optionsFromValues(r.URL.Query().Get))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSettings handles GET /api/settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snap := s.settings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]bool{
		"augmentation":    snap.Augmentation,
		"robust_recovery": snap.RobustRecovery,
	})
}

// handlePutSettings handles PUT /api/settings. Absent fields keep their
// current value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Augmentation   *bool `json:"augmentation"`
		RobustRecovery *bool `json:"robust_recovery"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Augmentation != nil {
		s.settings.SetAugmentation(*req.Augmentation)
		s.logger.Info("Augmentation setting changed", zap.Bool("enabled", *req.Augmentation))
	}
	if req.RobustRecovery != nil {
		s.settings.SetRobustRecovery(*req.RobustRecovery)
		s.logger.Info("Robust recovery setting changed", zap.Bool("enabled", *req.RobustRecovery))
	}

	s.handleGetSettings(w, r)
}

// handleReindex handles POST /api/reindex/{signal}.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var (
		summary indexuc.Summary
		err     error
	)
	switch signal := chi.URLParam(r, "signal"); signal {
	case "hashes":
		summary, err = s.reindex.ReindexHashes(r.Context())
	case "colors":
		summary, err = s.reindex.ReindexColors(r.Context())
	case "embeddings":
		summary, err = s.reindex.ReindexEmbeddings(r.Context())
	case "regions":
		clear := r.URL.Query().Get("clear") == "true"
		summary, err = s.reindex.ReindexRegions(r.Context(), clear)
	default:
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("unknown signal %q: want hashes, colors, embeddings, or regions", signal))
		return
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, total, err := s.library.List(r.Context(), 1, 0)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"images":        total,
		"corpus_models": s.corpus.Stats(),
	})
}

// handleCacheClear handles POST /api/cache/clear. Drops every cached corpus
// snapshot; the next search repopulates them from the store.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.corpus.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleHealth handles GET /health. A dead store reports 503 so load
// balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// uploadForm gives handlers access to the parsed multipart fields.
type uploadForm struct {
	filename string
	get      func(key string) string
}

// readUpload parses the multipart form and reads the "file" part, enforcing
// the configured size limit. On failure it writes the error response and
// returns ok=false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, uploadForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid multipart form: "+err.Error())
		return nil, uploadForm{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, `Form part "file" is required`)
		return nil, uploadForm{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Failed to read upload: "+err.Error())
		return nil, uploadForm{}, false
	}
	if int64(len(data)) > s.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, codeValidationFailed,
			fmt.Sprintf("Upload exceeds the %d MB limit", s.maxUploadSize>>20))
		return nil, uploadForm{}, false
	}

	return data, uploadForm{filename: header.Filename, get: r.FormValue}, true
}

// optionsFromValues builds search options from request values. Unset or
// malformed values fall back to the pipeline defaults.
func optionsFromValues(get func(key string) string) searchuc.Options {
	var opts searchuc.Options
	if v, err := strconv.Atoi(get("top_k")); err == nil {
		opts.TopK = v
	}
	if v, err := strconv.ParseFloat(get("min_similarity"), 64); err == nil {
		opts.MinSim = v
	}
	if v, err := strconv.ParseFloat(get("clip_weight"), 64); err == nil {
		opts.ClipWeight = v
	}
	if v, err := strconv.ParseFloat(get("color_weight"), 64); err == nil {
		opts.ColorWeight = v
	}
	if v, err := strconv.ParseFloat(get("hash_weight"), 64); err == nil {
		opts.HashWeight = v
	}
	opts.Method = get("method")
	opts.Combine = get("combine")
	if v, err := strconv.ParseBool(get("use_augmentation")); err == nil {
		opts.UseAugmentation = &v
	}
	if v, err := strconv.ParseBool(get("enable_rerank")); err == nil {
		opts.EnableRerank = &v
	}
	if v, err := strconv.Atoi(get("rerank_k")); err == nil {
		opts.RerankK = v
	}
	return opts
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Image ID must be a positive integer")
		return 0, false
	}
	return id, true
}

func intQuery(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

// handleDomainError maps a domain error to an HTTP response, defaulting to
// a 500 logged with the request-scoped logger.
func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	logpkg.FromContext(r.Context(), s.logger).Error("Unhandled error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if errors.Is(err, sentinel) {
			writeError(w, status, code, err.Error())
			return true
		}
		return false
	}
}
