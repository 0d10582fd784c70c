// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/orchestrator"
)

// RepairsHandler exposes repair runs and the orchestrator toggle.
type RepairsHandler struct {
	repairStore  *models.RepairStore
	orchestrator *orchestrator.Service
}

func NewRepairsHandler(repairStore *models.RepairStore, orchestratorService *orchestrator.Service) *RepairsHandler {
	return &RepairsHandler{
		repairStore:  repairStore,
		orchestrator: orchestratorService,
	}
}

// ListRuns returns recent repair runs, newest first.
func (h *RepairsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 50)

	runs, err := h.repairStore.History(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list repair runs")
		RespondError(w, http.StatusInternalServerError, "Failed to list repair runs")
		return
	}

	RespondJSON(w, http.StatusOK, runs)
}

// GetCurrentRun returns the active run, or 204 when nothing is running.
func (h *RepairsHandler) GetCurrentRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.repairStore.CurrentRun(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get current repair run")
		RespondError(w, http.StatusInternalServerError, "Failed to get current run")
		return
	}
	if run == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	RespondJSON(w, http.StatusOK, run)
}

// RunDetailResponse is one run with its per-symlink outcomes.
type RunDetailResponse struct {
	Run   *models.RepairRun    `json:"run"`
	Stats []*models.RepairStat `json:"stats"`
}

// GetRun returns one run and its stats.
func (h *RepairsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil || runID <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.repairStore.GetRun(r.Context(), runID)
	if err != nil {
		log.Error().Err(err).Int64("runID", runID).Msg("Failed to get repair run")
		RespondError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		RespondError(w, http.StatusNotFound, "Run not found")
		return
	}

	stats, err := h.repairStore.RunStats(r.Context(), runID)
	if err != nil {
		log.Error().Err(err).Int64("runID", runID).Msg("Failed to get run stats")
		RespondError(w, http.StatusInternalServerError, "Failed to get run stats")
		return
	}

	RespondJSON(w, http.StatusOK, RunDetailResponse{Run: run, Stats: stats})
}

// RunRepairPayload selects which strategy a manual run uses.
type RunRepairPayload struct {
	Strategy string `json:"strategy"`
}

// RunRepair starts a manual repair run. Strategy "cinesync" and "arr" run a
// single strategy, anything else runs the full orchestrated sequence.
func (h *RepairsHandler) RunRepair(w http.ResponseWriter, r *http.Request) {
	var payload RunRepairPayload
	if !DecodeJSONOptional(w, r, &payload) {
		return
	}

	ctx := r.Context()
	switch payload.Strategy {
	case "cinesync":
		run, err := h.orchestrator.RunCinesync(ctx, models.RepairTriggerManual)
		h.respondRun(w, run, err)
	case "arr":
		run, err := h.orchestrator.RunArr(ctx, models.RepairTriggerManual)
		h.respondRun(w, run, err)
	case "", "all":
		summary, err := h.orchestrator.RunOrchestrated(ctx, models.RepairTriggerManual)
		if err != nil {
			log.Error().Err(err).Msg("Orchestrated repair run failed")
			RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		RespondJSON(w, http.StatusOK, summary)
	default:
		RespondError(w, http.StatusBadRequest, "Unknown strategy")
	}
}

func (h *RepairsHandler) respondRun(w http.ResponseWriter, run *models.RepairRun, err error) {
	if err != nil {
		log.Error().Err(err).Msg("Repair run failed")
		RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, run)
}

// GetOrchestrator returns the persisted orchestrator state.
func (h *RepairsHandler) GetOrchestrator(w http.ResponseWriter, r *http.Request) {
	state, err := h.repairStore.OrchestratorState(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get orchestrator state")
		RespondError(w, http.StatusInternalServerError, "Failed to get orchestrator state")
		return
	}

	RespondJSON(w, http.StatusOK, state)
}

// OrchestratorPayload toggles automatic repair runs.
type OrchestratorPayload struct {
	Enabled bool `json:"enabled"`
}

// SetOrchestrator enables or disables automatic repair runs. The setting
// survives restarts.
func (h *RepairsHandler) SetOrchestrator(w http.ResponseWriter, r *http.Request) {
	var payload OrchestratorPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if err := h.orchestrator.SetEnabled(r.Context(), payload.Enabled); err != nil {
		log.Error().Err(err).Msg("Failed to set orchestrator state")
		RespondError(w, http.StatusInternalServerError, "Failed to set orchestrator state")
		return
	}

	log.Info().Bool("enabled", payload.Enabled).Msg("Orchestrator state changed")
	h.GetOrchestrator(w, r)
}
