package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/mcap-offload/internal/catalog"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
)

// Recoverer runs one batch recovery job.
type Recoverer interface {
	Run(ctx context.Context, names []string) (*recovery.Bundle, error)
}

// Catalog is the persistence surface used by the catalog and stats endpoints.
type Catalog interface {
	CreateFile(ctx context.Context, rec catalog.FileRecord) (*catalog.FileRecord, error)
	GetFile(ctx context.Context, id int64) (*catalog.FileRecord, error)
	ListFiles(ctx context.Context) ([]catalog.FileRecord, error)
	UpdateFile(ctx context.Context, rec catalog.FileRecord) (*catalog.FileRecord, error)
	DeleteFile(ctx context.Context, id int64) error
	GetSync(ctx context.Context, id string) (*catalog.SyncLog, error)
	ListSyncs(ctx context.Context, limit int) ([]catalog.SyncLog, error)
	Stats(ctx context.Context) (catalog.Stats, error)
}

// SyncStarter launches a background sync run.
type SyncStarter interface {
	Start(ctx context.Context) (*catalog.SyncLog, error)
	Current() (string, bool)
}

// Config holds API server configuration
type Config struct {
	Listen          string
	ServiceName     string
	BaseDir         string
	Extension       string
	CORSOrigins     []string
	MaxRequestBytes int64
	// WriteTimeout applies to every route except /api/recover, whose write
	// deadline is sized per request from RecoverTimeout and RecoverWorkers.
	WriteTimeout time.Duration
	// RecoverTimeout is the per-file tool timeout of the recovery pipeline.
	// Zero leaves recover responses without a write deadline.
	RecoverTimeout time.Duration
	RecoverWorkers int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	recoverer Recoverer
	catalog   Catalog
	syncer    SyncStarter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *EventHub
	now       func() time.Time
}

// New creates a new API server instance. syncer may be nil when sync is not
// configured.
func New(config Config, recoverer Recoverer, cat Catalog, syncer SyncStarter, logger *slog.Logger) *Server {
	if config.MaxRequestBytes <= 0 {
		config.MaxRequestBytes = 1 << 20
	}
	if config.ServiceName == "" {
		config.ServiceName = "mcap-offload"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Minute
	}
	if config.RecoverWorkers < 1 {
		config.RecoverWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		recoverer: recoverer,
		catalog:   cat,
		syncer:    syncer,
		logger:    logger,
		startedAt: time.Now(),
		events:    NewEventHub(256),
		now:       time.Now,
	}
}

// Publish sends an activity event to /api/events subscribers.
func (s *Server) Publish(eventType string, data any) {
	s.events.Publish(eventType, data)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.StripSlashes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition", headerRecovered, headerRequested, headerJobID},
	}).Handler)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)

		r.Post("/recover", s.handleRecover)

		r.Get("/files", s.handleListFiles)
		r.Route("/files/records", func(r chi.Router) {
			r.Get("/", s.handleListRecords)
			r.Post("/", s.handleCreateRecord)
			r.Get("/{id}", s.handleGetRecord)
			r.Put("/{id}", s.handleUpdateRecord)
			r.Delete("/{id}", s.handleDeleteRecord)
		})

		r.Post("/sync", s.handleTriggerSync)
		r.Get("/synclogs", s.handleListSyncLogs)
		r.Get("/synclogs/{id}", s.handleGetSyncLog)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
