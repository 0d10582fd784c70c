// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
)

// ActionsHandler exposes the upstream action queue.
type ActionsHandler struct {
	actionStore *models.ActionStore
	processor   *actions.Service
}

func NewActionsHandler(actionStore *models.ActionStore, processor *actions.Service) *ActionsHandler {
	return &ActionsHandler{
		actionStore: actionStore,
		processor:   processor,
	}
}

// ListActions returns queued actions, newest first.
func (h *ActionsHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 100)

	queued, err := h.actionStore.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list actions")
		RespondError(w, http.StatusInternalServerError, "Failed to list actions")
		return
	}

	RespondJSON(w, http.StatusOK, queued)
}

// ProcessActions drains the pending queue. With ?dryRun=true the queue is
// inspected but nothing is sent.
func (h *ActionsHandler) ProcessActions(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dryRun") == "true"

	summary, err := h.processor.Process(r.Context(), dryRun)
	if err != nil {
		log.Error().Err(err).Msg("Failed to process action queue")
		RespondError(w, http.StatusInternalServerError, "Failed to process actions")
		return
	}

	RespondJSON(w, http.StatusOK, summary)
}
