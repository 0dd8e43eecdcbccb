/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, cache, telemetry, and the
// HTTP API into one runnable unit.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/almanac-app/almanac/internal/api"
	"github.com/almanac-app/almanac/internal/cache"
	"github.com/almanac-app/almanac/internal/config"
	"github.com/almanac-app/almanac/internal/db"
	"github.com/almanac-app/almanac/internal/store"
	"github.com/almanac-app/almanac/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	db    *gorm.DB
	cache *cache.Cache
	store *store.Store
	api   *api.API
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	settingsCache, err := cache.New(cache.Config{
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DisableOnError: true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing cache: %w", err)
	}

	st := store.New(database)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(telemetry.TracingMiddleware("almanac-api"))
	router.Use(telemetry.MetricsMiddleware)

	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		router: router,
		db:     database,
		cache:  settingsCache,
		store:  st,
		api:    api.New(st, settingsCache, cfg, logger),
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

// HTTPServer returns the configured HTTP server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases the database and cache connections.
func (s *Server) Close() error {
	var firstErr error
	if err := s.cache.Close(); err != nil {
		firstErr = err
	}
	if err := db.Close(s.db); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
