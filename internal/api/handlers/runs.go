// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/services/sitetag"
)

const TriggerManual = "manual"

type PassRunner interface {
	TryRunPass(ctx context.Context, trigger string) (sitetag.PassSummary, error)
	Running() bool
	Cancel() bool
	LastSummary() (sitetag.PassSummary, bool)
	GetActivity() []sitetag.ActivityEvent
}

type RunsHandler struct {
	runner PassRunner
	// base outlives the request that started the pass.
	base context.Context
}

func NewRunsHandler(base context.Context, runner PassRunner) *RunsHandler {
	if base == nil {
		base = context.Background()
	}
	return &RunsHandler{runner: runner, base: base}
}

type runStatusResponse struct {
	Running bool                 `json:"running"`
	Last    *sitetag.PassSummary `json:"last,omitempty"`
}

// Start kicks off a pass in the background.
func (h *RunsHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.runner.Running() {
		RespondError(w, http.StatusConflict, "A tagging pass is already running")
		return
	}

	go func() {
		summary, err := h.runner.TryRunPass(h.base, TriggerManual)
		if err != nil {
			if errors.Is(err, sitetag.ErrPassRunning) {
				log.Debug().Msg("manual pass skipped, another pass started first")
				return
			}
			log.Error().Err(err).Msg("manual pass failed")
			return
		}
		log.Debug().Str("pass", summary.ID).Str("result", summary.Result).Msg("manual pass finished")
	}()

	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.runner.Cancel() {
		RespondError(w, http.StatusConflict, "No tagging pass is running")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RunsHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := runStatusResponse{Running: h.runner.Running()}
	if last, ok := h.runner.LastSummary(); ok {
		resp.Last = &last
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *RunsHandler) Last(w http.ResponseWriter, r *http.Request) {
	last, ok := h.runner.LastSummary()
	if !ok {
		RespondError(w, http.StatusNotFound, "No tagging pass has finished yet")
		return
	}
	RespondJSON(w, http.StatusOK, last)
}

func (h *RunsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	activity := h.runner.GetActivity()
	if activity == nil {
		activity = []sitetag.ActivityEvent{}
	}
	RespondJSON(w, http.StatusOK, activity)
}
