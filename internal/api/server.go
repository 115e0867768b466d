// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/pixelstudio/pslicense/internal/api/handlers"
	"github.com/pixelstudio/pslicense/internal/api/middleware"
	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/engine"
)

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	Engine *engine.Engine
	Repo   *database.LicenseRepo
	Logger zerolog.Logger
}

type Server struct {
	deps   Dependencies
	server *http.Server
}

func NewServer(deps Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.deps.Logger))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	})
	r.Use(corsMiddleware.Handler)

	licenseHandler := handlers.NewLicenseHandler(s.deps.Engine, s.deps.Repo, s.deps.Logger)
	healthHandler := handlers.NewHealthHandler()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		licenseHandler.Routes(r)
	})

	return r
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.deps.Logger.Info().Str("address", addr).Msg("Starting license server")

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
