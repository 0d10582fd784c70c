// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/models"
)

// SymlinksHandler serves tracked symlink records and their history.
type SymlinksHandler struct {
	symlinkStore *models.SymlinkStore
	actionStore  *models.ActionStore
	repairStore  *models.RepairStore
}

func NewSymlinksHandler(symlinkStore *models.SymlinkStore, actionStore *models.ActionStore, repairStore *models.RepairStore) *SymlinksHandler {
	return &SymlinksHandler{
		symlinkStore: symlinkStore,
		actionStore:  actionStore,
		repairStore:  repairStore,
	}
}

// StatusResponse aggregates the counts shown on the dashboard.
type StatusResponse struct {
	Symlinks     *models.StatusCounts      `json:"symlinks"`
	Actions      *models.ActionCounts      `json:"actions"`
	Orchestrator *models.OrchestratorState `json:"orchestrator"`
}

// GetStatus returns aggregate symlink, action and orchestrator state.
func (h *SymlinksHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	symlinkCounts, err := h.symlinkStore.Counts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count symlinks")
		RespondError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}

	actionCounts, err := h.actionStore.Counts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count actions")
		RespondError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}

	state, err := h.repairStore.OrchestratorState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get orchestrator state")
		RespondError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}

	RespondJSON(w, http.StatusOK, StatusResponse{
		Symlinks:     symlinkCounts,
		Actions:      actionCounts,
		Orchestrator: state,
	})
}

// ListSymlinks returns current records filtered by status, broken by
// default.
func (h *SymlinksHandler) ListSymlinks(w http.ResponseWriter, r *http.Request) {
	status := models.SymlinkStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.SymlinkStatusBroken
	}
	switch status {
	case models.SymlinkStatusOk, models.SymlinkStatusBroken, models.SymlinkStatusError, models.SymlinkStatusUnknown:
	default:
		RespondError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}
	limit := QueryInt(r, "limit", 100)

	records, err := h.symlinkStore.ListByStatus(r.Context(), status, limit)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list symlinks")
		RespondError(w, http.StatusInternalServerError, "Failed to list symlinks")
		return
	}

	RespondJSON(w, http.StatusOK, records)
}

// GetEvents returns the status transition history for one path.
func (h *SymlinksHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		RespondError(w, http.StatusBadRequest, "Missing path parameter")
		return
	}
	limit := QueryInt(r, "limit", 50)

	events, err := h.symlinkStore.EventsForPath(r.Context(), path, limit)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to list status events")
		RespondError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	RespondJSON(w, http.StatusOK, events)
}

// ManualPayload is the request body for toggling the manual flag.
type ManualPayload struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ClearManual removes the sticky manual-required flag from one path so the
// watchdog picks it up again.
func (h *SymlinksHandler) ClearManual(w http.ResponseWriter, r *http.Request) {
	var payload ManualPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.Path == "" {
		RespondError(w, http.StatusBadRequest, "Missing path")
		return
	}

	if err := h.symlinkStore.ClearManual(r.Context(), payload.Path); err != nil {
		log.Error().Err(err).Str("path", payload.Path).Msg("Failed to clear manual flag")
		RespondError(w, http.StatusInternalServerError, "Failed to clear manual flag")
		return
	}

	log.Info().Str("path", payload.Path).Msg("Manual flag cleared")
	RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
