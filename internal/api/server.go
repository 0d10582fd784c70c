// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/api/handlers"
	"github.com/relinkarr/relinkarr/internal/api/middleware"
	"github.com/relinkarr/relinkarr/internal/buildinfo"
	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
	"github.com/relinkarr/relinkarr/internal/services/orchestrator"
)

// Dependencies carries everything the HTTP API serves.
type Dependencies struct {
	Config *domain.Config

	SymlinkStore *models.SymlinkStore
	ActionStore  *models.ActionStore
	RepairStore  *models.RepairStore

	Orchestrator *orchestrator.Service
	Processor    *actions.Service
}

// Server is the dashboard/CLI HTTP API.
type Server struct {
	deps *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router with all API routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Api-Token", "X-Requested-With"},
		AllowCredentials: true,
		AllowOriginFunc:  func(origin string) bool { return true },
	}).Handler)

	symlinksHandler := handlers.NewSymlinksHandler(s.deps.SymlinkStore, s.deps.ActionStore, s.deps.RepairStore)
	repairsHandler := handlers.NewRepairsHandler(s.deps.RepairStore, s.deps.Orchestrator)
	actionsHandler := handlers.NewActionsHandler(s.deps.ActionStore, s.deps.Processor)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(s.deps.Config.APIToken))

			r.Get("/status", symlinksHandler.GetStatus)
			r.Get("/symlinks", symlinksHandler.ListSymlinks)
			r.Get("/symlinks/events", symlinksHandler.GetEvents)
			r.Post("/symlinks/manual/clear", symlinksHandler.ClearManual)

			r.Get("/repairs", repairsHandler.ListRuns)
			r.Get("/repairs/current", repairsHandler.GetCurrentRun)
			r.Get("/repairs/{runID}", repairsHandler.GetRun)
			r.Post("/repairs/run", repairsHandler.RunRepair)

			r.Get("/orchestrator", repairsHandler.GetOrchestrator)
			r.Post("/orchestrator", repairsHandler.SetOrchestrator)

			r.Get("/actions", actionsHandler.ListActions)
			r.Post("/actions/process", actionsHandler.ProcessActions)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": buildinfo.Version,
	})
}

// Serve runs the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.deps.Config.Host, strconv.Itoa(s.deps.Config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
