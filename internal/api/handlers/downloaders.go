// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/sitetag/internal/clientpool"
)

type DownloaderStatuser interface {
	Statuses() []clientpool.Status
}

type DownloadersHandler struct {
	pool DownloaderStatuser
}

func NewDownloadersHandler(pool DownloaderStatuser) *DownloadersHandler {
	return &DownloadersHandler{pool: pool}
}

func (h *DownloadersHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses := h.pool.Statuses()
	if statuses == nil {
		statuses = []clientpool.Status{}
	}
	RespondJSON(w, http.StatusOK, statuses)
}
