// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sitetag

import (
	"context"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/downloader"
	"github.com/autobrr/sitetag/internal/events"
)

// HandleDownloadAdded tags a freshly added torrent with the site it came from.
// The site is already known from the notification, so neither the tracker
// lookup nor the path labels are consulted. Nothing is returned: every
// failure ends in a log line.
func (s *Service) HandleDownloadAdded(ctx context.Context, evt events.DownloadAdded) {
	logger := log.With().Str("downloader", evt.Downloader).Str("hash", evt.Hash).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("sitetag: recovered panic in download-added hook")
		}
	}()

	cfg := s.config.Tagging()
	if !cfg.Enabled {
		logger.Info().Msg("sitetag: tagging disabled, ignoring download-added event")
		return
	}

	name := strings.TrimSpace(evt.Downloader)
	hash := strings.TrimSpace(evt.Hash)
	site := strings.TrimSpace(evt.Context.TorrentInfo.SiteName)
	if name == "" || hash == "" || site == "" {
		logger.Info().Str("site", site).Msg("sitetag: download-added event without downloader, hash or site, ignoring")
		return
	}

	if len(cfg.Downloaders) == 0 || !slices.Contains(s.backends.Names(cfg.Downloaders), name) {
		logger.Info().Msg("sitetag: downloader is not selected for tagging, ignoring download-added event")
		return
	}

	backend, err := s.backends.Get(ctx, name)
	if err != nil {
		logger.Info().Err(err).Msg("sitetag: downloader not connected, ignoring download-added event")
		return
	}

	tags := []string{site}
	if err := backend.WriteTags(ctx, hash, tags, nil); err != nil {
		if errors.Is(err, downloader.ErrTorrentNotFound) {
			logger.Error().Err(err).Msg("sitetag: torrent lookup failed for download-added event")
		} else {
			logger.Error().Err(err).Msg("sitetag: failed to tag added torrent")
		}
		s.activity.add(ActivityEvent{
			Downloader: name, Hash: hash, Tags: tags,
			Outcome: OutcomeFailed, Reason: err.Error(), Source: SourceHook, Timestamp: s.now(),
		})
		return
	}

	s.metrics.TagsWritten(name, string(SourceHook), len(tags))
	s.activity.add(ActivityEvent{
		Downloader: name, Hash: hash, Tags: tags,
		Outcome: OutcomeTagged, Source: SourceHook, Timestamp: s.now(),
	})
	logger.Info().Strs("tags", tags).Msg("sitetag: tagged added torrent")
}
