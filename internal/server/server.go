// Package server exposes uploads, personalization runs, diagnostics and
// settings over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/diagnostics"
	"github.com/sells-group/outreach-cli/internal/ingest"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Deps are the collaborators the API serves.
type Deps struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Diagnostics  *diagnostics.Suite
	Settings     *settings.Store
	// Endpoint is the configured webhook, used when neither the request nor
	// the stored settings name one.
	Endpoint string
	Mode     orchestrator.Mode
	Ingest   ingest.Options
}

// Server is the dashboard API.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	owners  map[string]string
	limiter *limiter
	log     *zap.Logger

	// runCtx parents background runs; cancelled on shutdown.
	runCtx context.Context
}

// New creates a Server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Mode == "" {
		deps.Mode = orchestrator.ModeSequential
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		owners: cfg.Owners(),
		log:    zap.L().With(zap.String("component", "server")),
		runCtx: context.Background(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newLimiter(cfg.RateLimitRPS, cfg.RateBurst)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(s.owners))
		if s.limiter != nil {
			r.Use(s.limiter.rateLimit)
		}

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", s.handleCreateUpload)
			r.Get("/", s.handleListUploads)
			r.Get("/{id}", s.handleGetUpload)
			r.Get("/{id}/items", s.handleListItems)
			r.Post("/{id}/process", s.handleProcess)
		})
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/diagnostics", s.handleDiagnostics)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	return r
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully.
// Runs started through the API are cancelled with ctx.
func (s *Server) Serve(ctx context.Context, port int) error {
	s.runCtx = ctx
	if len(s.owners) == 0 {
		s.log.Warn("no api keys configured, every request runs as the local owner")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server: shutdown")
	})
	if s.limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					s.limiter.sweep(now)
				}
			}
		})
	}
	return g.Wait()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	RunID   string   `json:"runId,omitempty"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// respondInternal logs err and hides it from the caller.
func (s *Server) respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal error")
}
