// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/events"
)

type EventPublisher interface {
	PublishDownloadAdded(ctx context.Context, evt events.DownloadAdded) error
}

type EventsHandler struct {
	publisher EventPublisher
}

func NewEventsHandler(publisher EventPublisher) *EventsHandler {
	return &EventsHandler{publisher: publisher}
}

// DownloadAdded queues a download-added notification for the tagger. Field
// validation happens in the consumer so that the log explains every skip.
func (h *EventsHandler) DownloadAdded(w http.ResponseWriter, r *http.Request) {
	var evt events.DownloadAdded
	if err := decodeJSON(w, r, &evt); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	evt.Downloader = strings.TrimSpace(evt.Downloader)
	evt.Hash = strings.TrimSpace(evt.Hash)

	if err := h.publisher.PublishDownloadAdded(r.Context(), evt); err != nil {
		log.Error().Err(err).Str("downloader", evt.Downloader).Str("hash", evt.Hash).Msg("failed to publish download-added event")
		RespondError(w, http.StatusServiceUnavailable, "Failed to queue event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
