// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/models"
	"github.com/autobrr/sitetag/internal/sites"
)

type SiteStore interface {
	List(ctx context.Context) ([]*models.Site, error)
	GetByName(ctx context.Context, name string) (*models.Site, error)
	Create(ctx context.Context, site *models.Site) (*models.Site, error)
	Update(ctx context.Context, site *models.Site) (*models.Site, error)
	Upsert(ctx context.Context, name string, domains []string) (*models.Site, error)
	Delete(ctx context.Context, id int) error
}

// DirectoryInvalidator drops a cached site directory so the next pass sees edits.
type DirectoryInvalidator interface {
	Invalidate()
}

type SitesHandler struct {
	store     SiteStore
	directory DirectoryInvalidator
}

func NewSitesHandler(store SiteStore, directory DirectoryInvalidator) *SitesHandler {
	return &SitesHandler{store: store, directory: directory}
}

type SitePayload struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
}

func (p *SitePayload) toModel(id int) *models.Site {
	return &models.Site{
		ID:      id,
		Name:    strings.TrimSpace(p.Name),
		Domains: normalizeDomains(p.Domains),
	}
}

func (p *SitePayload) validate() string {
	if strings.TrimSpace(p.Name) == "" {
		return "Site name is required"
	}
	if len(normalizeDomains(p.Domains)) == 0 {
		return "At least one domain is required"
	}
	return ""
}

func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sites")
		RespondError(w, http.StatusInternalServerError, "Failed to load sites")
		return
	}

	if list == nil {
		list = []*models.Site{}
	}

	RespondJSON(w, http.StatusOK, list)
}

func (h *SitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload SitePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	if existing, err := h.store.GetByName(r.Context(), strings.TrimSpace(payload.Name)); err == nil && existing != nil {
		RespondError(w, http.StatusConflict, "A site with this name already exists")
		return
	}

	site, err := h.store.Create(r.Context(), payload.toModel(0))
	if err != nil {
		log.Error().Err(err).Msg("failed to create site")
		RespondError(w, http.StatusInternalServerError, "Failed to create site")
		return
	}

	h.invalidate()
	RespondJSON(w, http.StatusCreated, site)
}

func (h *SitesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSiteID(w, r)
	if !ok {
		return
	}

	var payload SitePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	if existing, err := h.store.GetByName(r.Context(), strings.TrimSpace(payload.Name)); err == nil && existing != nil && existing.ID != id {
		RespondError(w, http.StatusConflict, "A site with this name already exists")
		return
	}

	site, err := h.store.Update(r.Context(), payload.toModel(id))
	if err != nil {
		if errors.Is(err, models.ErrSiteNotFound) {
			RespondError(w, http.StatusNotFound, "Site not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to update site")
		RespondError(w, http.StatusInternalServerError, "Failed to update site")
		return
	}

	h.invalidate()
	RespondJSON(w, http.StatusOK, site)
}

func (h *SitesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSiteID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSiteNotFound) {
			RespondError(w, http.StatusNotFound, "Site not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete site")
		RespondError(w, http.StatusInternalServerError, "Failed to delete site")
		return
	}

	h.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// Import accepts the same YAML document as the sites import command.
func (h *SitesHandler) Import(w http.ResponseWriter, r *http.Request) {
	count, err := sites.ImportYAML(r.Context(), h.store, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("failed to import sites")
		RespondError(w, http.StatusBadRequest, "Failed to import sites: "+err.Error())
		return
	}

	h.invalidate()
	RespondJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func (h *SitesHandler) invalidate() {
	if h.directory != nil {
		h.directory.Invalidate()
	}
}

func parseSiteID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid site ID")
		return 0, false
	}
	return id, true
}

func normalizeDomains(domains []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range domains {
		trimmed := strings.TrimSpace(d)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	return out
}
