// Package server exposes the dashboard service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/config"
	"fx-deviation-monitor/internal/service"
)

// Server is the HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	svc    *service.Service
	log    zerolog.Logger
}

// New wires routes and middleware around the service.
func New(cfg config.ServerConfig, svc *service.Service, logger zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		log:    logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware(cfg config.ServerConfig) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	if cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Post("/", s.handleStartSession)
			r.Post("/refresh", s.handleRefreshSession)
		})
		r.Route("/upload", func(r chi.Router) {
			r.Get("/", s.handleUploads)
			r.Post("/session", s.handleStartUploadSession)
			r.Post("/{kind}", s.handleUpload)
		})
		r.Route("/thresholds", func(r chi.Router) {
			r.Get("/", s.handleThresholds)
			r.Post("/reset", s.handleResetThresholds)
			r.Put("/{entity}/{scope}", s.handleUpdateThreshold)
		})
		r.Get("/simulate", s.handleSimulate)
		r.Get("/compare", s.handleCompare)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/dashboard/{set}", s.handleResultSet)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
