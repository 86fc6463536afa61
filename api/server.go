// Package api exposes the resolver over HTTP for the trend console.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/newshub/resolver"
	"github.com/newshub/resolver/db"
	"github.com/newshub/resolver/metrics"
	"github.com/newshub/resolver/models"
	"github.com/newshub/resolver/slug"
	"github.com/newshub/resolver/storage"
)

// Resolver is the pipeline surface the server depends on.
type Resolver interface {
	ResolveAll(ctx context.Context, urls []string) *models.Report
	ResolveAllParallel(ctx context.Context, urls []string, workers int) *models.Report
	FetchImage(ctx context.Context, imageURL, referer string) ([]byte, string, error)
}

// Server represents the API server.
type Server struct {
	resolver    Resolver
	db          *db.DB                // nil in stateless mode
	store       storage.ImageStore    // nil when mirroring is disabled
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
	workers     int
}

// Config contains server configuration.
type Config struct {
	Addr           string
	DBConfig       db.Config        // empty DSN disables persistence
	StorageConfig  storage.Config   // empty BasePath disables local image mirroring
	S3Config       storage.S3Config // non-empty Bucket selects the S3 backend instead
	ResolverConfig resolver.Config
	CORSEnabled    bool
	Workers        int // >1 enables the parallel batch mode
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ResolverConfig: resolver.DefaultConfig(),
		CORSEnabled:    true,
		Workers:        1,
	}
}

// NewServer creates a new API server. Persistence and image mirroring
// are optional; with both disabled every request is resolved fresh and
// nothing outlives the response, matching the pipeline's own model.
func NewServer(config Config) (*Server, error) {
	var database *db.DB
	if config.DBConfig.DSN != "" {
		var err error
		database, err = db.New(config.DBConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	var store storage.ImageStore
	if config.S3Config.Bucket != "" {
		s3Store, err := storage.NewS3(context.Background(), config.S3Config)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		store = s3Store
	} else if config.StorageConfig.BasePath != "" {
		fsStore, err := storage.New(config.StorageConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		store = fsStore
	}

	return newServer(config, resolver.New(config.ResolverConfig), database, store), nil
}

// newServer wires a server around an already-built resolver; tests use
// it to inject a stub pipeline.
func newServer(config Config, res Resolver, database *db.DB, store storage.ImageStore) *Server {
	s := &Server{
		resolver:    res,
		db:          database,
		store:       store,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
		workers:     config.Workers,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      otelhttp.NewHandler(s.middleware(s.mux), "resolver-api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // a deep cascade over many URLs takes a while
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/resolve", s.handleResolve)
	s.mux.HandleFunc("/api/results", s.handleList)
	s.mux.HandleFunc("/api/results/", s.handleResult) // /api/results/{id} and /api/results/{id}/image
}

// Start starts the API server.
func (s *Server) Start() error {
	log.Printf("starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying results store, or nil in stateless mode.
func (s *Server) DB() *db.DB {
	return s.db
}

// middleware applies CORS, request logging and latency metrics.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			log.Printf("%s %s - %d in %v", r.Method, r.URL.Path, rec.status, time.Since(start))
			metrics.HTTPRequestDuration.
				WithLabelValues(routeLabel(r.URL.Path), r.Method, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses record IDs out of paths to keep metric
// cardinality bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/results/") {
		if strings.HasSuffix(path, "/image") {
			return "/api/results/{id}/image"
		}
		return "/api/results/{id}"
	}
	return path
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}
	if s.db != nil {
		count, err := s.db.Count()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to get count")
			return
		}
		payload["count"] = count
	}
	respondJSON(w, http.StatusOK, payload)
}

// ResolveRequest represents a resolve request.
type ResolveRequest struct {
	URLs  []string `json:"urls"`
	Force bool     `json:"force"` // skip the cache even when persistence is on
}

// handleResolve resolves one or more input URLs into a Report.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		respondError(w, http.StatusBadRequest, "urls is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	// Serve cache hits without touching the portal.
	var cached []models.Result
	if s.db != nil && !req.Force {
		urls, cached = s.splitCached(urls)
	}

	var report *models.Report
	if len(urls) > 0 {
		if s.workers > 1 {
			report = s.resolver.ResolveAllParallel(ctx, urls, s.workers)
		} else {
			report = s.resolver.ResolveAll(ctx, urls)
		}
		if s.db != nil {
			if err := s.db.SaveReport(report); err != nil {
				log.Printf("failed to save report %s: %v", report.ID, err)
				// Still return the report even if persistence fails.
			}
		}
		s.mirrorImages(ctx, report)
	} else {
		report = &models.Report{Results: []models.Result{}, Errors: []string{}, StartedAt: time.Now()}
	}

	report.Results = append(cached, report.Results...)
	respondJSON(w, http.StatusOK, report)
}

// splitCached partitions input URLs into ones that must be resolved and
// cached Results keyed by the URL's search keyword or os token.
func (s *Server) splitCached(urls []string) ([]string, []models.Result) {
	var remaining []string
	var cached []models.Result
	for _, u := range urls {
		var stored *db.StoredProfile
		var err error
		if os := resolver.ExtractOsToken(u); os != "" {
			stored, err = s.db.GetByOs(models.OsSourceNaver, os)
		} else if kw := resolver.SearchKeyword(u); kw != "" {
			stored, err = s.db.GetByKeyword(kw)
		}
		if err != nil {
			log.Printf("cache lookup for %s failed: %v", u, err)
		}
		if stored != nil {
			cached = append(cached, stored.Result)
			continue
		}
		remaining = append(remaining, u)
	}
	return remaining, cached
}

// mirrorImages downloads and stores the profile image for every fresh
// result. Mirror failures are logged, never surfaced; the result still
// carries the portal image URL.
func (s *Server) mirrorImages(ctx context.Context, report *models.Report) {
	if s.store == nil {
		return
	}
	for i := range report.Results {
		res := &report.Results[i]
		if res.NaverImage == "" {
			continue
		}
		key := slug.KeywordKey(res.Keyword, res.Os)
		if key == "" {
			continue
		}
		data, contentType, err := s.resolver.FetchImage(ctx, res.NaverImage, res.ProfileURL)
		if err != nil {
			log.Printf("failed to mirror image for os=%s: %v", res.Os, err)
			continue
		}
		path, err := s.store.SaveImage(ctx, data, key, contentType)
		if err != nil {
			log.Printf("failed to store image for os=%s: %v", res.Os, err)
			continue
		}
		if s.db != nil {
			if stored, err := s.db.GetByOs(res.OsSource, res.Os); err == nil && stored != nil {
				if err := s.db.SetImagePath(stored.ID, path); err != nil {
					log.Printf("failed to record image path for os=%s: %v", res.Os, err)
				}
			}
		}
	}
}

// handleList lists stored profiles with pagination.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		fmt.Sscanf(v, "%d", &offset)
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	profiles, err := s.db.List(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	count, _ := s.db.Count()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   profiles,
		"total":  count,
		"limit":  limit,
		"offset": offset,
	})
}

// handleResult handles GET/DELETE by ID and the mirrored-image subpath.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/results/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if strings.HasSuffix(path, "/image") {
		id := strings.TrimSuffix(path, "/image")
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleServeImage(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetByID(w, r, path)
	case http.MethodDelete:
		s.handleDeleteByID(w, r, path)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetByID(w http.ResponseWriter, _ *http.Request, id string) {
	profile, err := s.db.GetByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteByID(w http.ResponseWriter, _ *http.Request, id string) {
	if err := s.db.DeleteByID(id); err != nil {
		if strings.Contains(err.Error(), "no profile found") {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "profile deleted successfully",
	})
}

// handleServeImage serves a mirrored profile image from storage.
func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request, id string) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "image mirroring is disabled")
		return
	}
	profile, err := s.db.GetByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	if profile.ImagePath == "" {
		respondError(w, http.StatusNotFound, "no mirrored image for profile")
		return
	}

	data, err := s.store.ReadImage(r.Context(), profile.ImagePath)
	if err != nil {
		log.Printf("failed to read mirrored image %s: %v", profile.ImagePath, err)
		respondError(w, http.StatusInternalServerError, "failed to read image")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
