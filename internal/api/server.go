// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/api/handlers"
	"github.com/autobrr/sitetag/internal/api/middleware"
	"github.com/autobrr/sitetag/internal/config"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string
	deps    *Dependencies
}

type Dependencies struct {
	Config  *config.AppConfig
	Version string
	// BaseContext bounds passes started over HTTP; they outlive the request.
	BaseContext context.Context
	DB          handlers.Pinger
	SiteStore   handlers.SiteStore
	Directory   handlers.DirectoryInvalidator
	Runner      handlers.PassRunner
	Pool        handlers.DownloaderStatuser
	Publisher   handlers.EventPublisher
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:  log.Logger.With().Str("module", "api").Logger(),
		config:  deps.Config,
		version: deps.Version,
		deps:    deps,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	cfg := s.config.Snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, cfg.BaseURL, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol, baseURL string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Open: http://%s%sapi", host, normalizeBaseURL(baseURL))

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.APIKeyHeader},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.deps.DB, s.version)
	sitesHandler := handlers.NewSitesHandler(s.deps.SiteStore, s.deps.Directory)
	runsHandler := handlers.NewRunsHandler(s.deps.BaseContext, s.deps.Runner)
	downloadersHandler := handlers.NewDownloadersHandler(s.deps.Pool)
	eventsHandler := handlers.NewEventsHandler(s.deps.Publisher)

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))
		r.Use(middleware.RequireAPIKey(s.config.APIKey))

		r.Get("/openapi.yaml", serveOpenAPISpec)

		r.Route("/sites", func(r chi.Router) {
			r.Get("/", sitesHandler.List)
			r.Post("/", sitesHandler.Create)
			r.Post("/import", sitesHandler.Import)
			r.Put("/{id}", sitesHandler.Update)
			r.Delete("/{id}", sitesHandler.Delete)
		})

		r.Get("/downloaders", downloadersHandler.List)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runsHandler.Status)
			r.Post("/", runsHandler.Start)
			r.Get("/last", runsHandler.Last)
			r.Post("/cancel", runsHandler.Cancel)
		})

		r.Get("/activity", runsHandler.Activity)

		r.Post("/events/download-added", eventsHandler.DownloadAdded)
	})

	baseURL := normalizeBaseURL(s.config.Snapshot().BaseURL)

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + baseURL + " instead of /"))
		})
	}

	return r, nil
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "/"
	}
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}
