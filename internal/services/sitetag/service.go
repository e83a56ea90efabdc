// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sitetag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
	"github.com/autobrr/sitetag/internal/metrics"
	"github.com/autobrr/sitetag/internal/sites"
	"github.com/autobrr/sitetag/internal/tagging"
)

var ErrPassRunning = errors.New("a tagging pass is already running")

const (
	ResultCompleted = "completed"
	ResultCancelled = "cancelled"
	ResultNoop      = "noop"
)

// ConfigSource returns the live tagging settings.
type ConfigSource interface {
	Tagging() domain.TaggingConfig
}

// BackendSource hands out connected downloaders by name.
type BackendSource interface {
	Names(selection []string) []string
	Get(ctx context.Context, name string) (downloader.Backend, error)
}

// DirectorySource returns the current known-site snapshot.
type DirectorySource interface {
	Snapshot(ctx context.Context) (*sites.Directory, error)
}

type Config struct {
	HistorySize int
}

func DefaultConfig() Config {
	return Config{HistorySize: defaultActivityLimit}
}

// DownloaderSummary is one downloader's share of a pass.
type DownloaderSummary struct {
	Name        string `json:"name"`
	Scanned     int    `json:"scanned"`
	Tagged      int    `json:"tagged"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Unreachable bool   `json:"unreachable,omitempty"`
	Error       string `json:"error,omitempty"`
}

type PassSummary struct {
	ID          string              `json:"id"`
	Trigger     string              `json:"trigger"`
	Result      string              `json:"result"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Downloaders []DownloaderSummary `json:"downloaders"`
	Scanned     int                 `json:"scanned"`
	Tagged      int                 `json:"tagged"`
	Unchanged   int                 `json:"unchanged"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Cancelled   bool                `json:"cancelled"`
}

// Service walks every selected downloader and adds site and path tags.
// Only one pass runs at a time; the event hook may run alongside it.
type Service struct {
	cfg       Config
	config    ConfigSource
	backends  BackendSource
	directory DirectorySource
	metrics   *metrics.Manager

	runMu    sync.Mutex
	running  atomic.Bool
	cancel   atomic.Bool
	lastMu   sync.RWMutex
	last     *PassSummary
	activity *activityLog
	now      func() time.Time
}

func NewService(cfg Config, config ConfigSource, backends BackendSource, directory DirectorySource, m *metrics.Manager) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Service{
		cfg:       cfg,
		config:    config,
		backends:  backends,
		directory: directory,
		metrics:   m,
		activity:  newActivityLog(cfg.HistorySize),
		now:       time.Now,
	}
}

// Cancel asks the running pass to stop before its next torrent. It reports
// false, and does nothing, when no pass is running.
func (s *Service) Cancel() bool {
	if !s.running.Load() {
		log.Debug().Msg("sitetag: cancellation ignored, no pass running")
		return false
	}
	s.cancel.Store(true)
	log.Info().Msg("sitetag: cancellation requested")
	return true
}

func (s *Service) Running() bool {
	return s.running.Load()
}

// LastSummary returns the summary of the most recent pass, if any.
func (s *Service) LastSummary() (PassSummary, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return PassSummary{}, false
	}
	return *s.last, true
}

// GetActivity returns recent per-torrent outcomes, newest last.
func (s *Service) GetActivity() []ActivityEvent {
	return s.activity.list()
}

// TryRunPass runs a pass unless one is already in progress.
func (s *Service) TryRunPass(ctx context.Context, trigger string) (PassSummary, error) {
	if !s.runMu.TryLock() {
		return PassSummary{}, ErrPassRunning
	}
	defer s.runMu.Unlock()
	return s.runPassLocked(ctx, trigger), nil
}

// RunPass waits for any running pass, then runs one.
func (s *Service) RunPass(ctx context.Context, trigger string) PassSummary {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runPassLocked(ctx, trigger)
}

// pass holds everything that stays fixed for the duration of one pass.
type pass struct {
	summary    *PassSummary
	aliases    tagging.Table
	pathLabels tagging.Table
	siteNames  map[string]struct{}
	lookup     tagging.LookupFunc
	logger     zerolog.Logger
}

func (s *Service) runPassLocked(ctx context.Context, trigger string) PassSummary {
	// A request that raced the end of the previous pass must not stop this one.
	s.cancel.Store(false)
	s.running.Store(true)
	defer s.running.Store(false)

	summary := &PassSummary{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		Result:      ResultCompleted,
		StartedAt:   s.now(),
		Downloaders: []DownloaderSummary{},
	}
	logger := log.With().Str("passID", summary.ID).Str("trigger", trigger).Logger()

	defer func() {
		summary.FinishedAt = s.now()
		s.metrics.ObservePass(summary.Result, summary.FinishedAt.Sub(summary.StartedAt))

		logger.Info().
			Str("result", summary.Result).
			Int("scanned", summary.Scanned).
			Int("tagged", summary.Tagged).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Dur("took", summary.FinishedAt.Sub(summary.StartedAt)).
			Msg("sitetag: pass finished")

		s.lastMu.Lock()
		copied := *summary
		s.last = &copied
		s.lastMu.Unlock()
	}()

	cfg := s.config.Tagging()
	if len(cfg.Downloaders) == 0 {
		logger.Warn().Msg("sitetag: no downloaders selected, check the configuration")
		summary.Result = ResultNoop
		return *summary
	}

	names := s.backends.Names(cfg.Downloaders)
	if len(names) == 0 {
		logger.Warn().Strs("selected", cfg.Downloaders).Msg("sitetag: none of the selected downloaders are configured")
		summary.Result = ResultNoop
		return *summary
	}

	p := &pass{
		summary:    summary,
		aliases:    tagging.ParseTable(cfg.TrackerMap),
		pathLabels: tagging.ParseTable(cfg.SavePathMap),
		siteNames:  map[string]struct{}{},
		logger:     logger,
	}

	dir, err := s.directory.Snapshot(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("sitetag: could not load known sites, only path labels will be applied")
	} else {
		p.siteNames = dir.Names()
		p.lookup = dir.Lookup
	}

	logger.Info().Strs("downloaders", names).Msg("sitetag: pass started")

	for _, name := range names {
		if s.observeCancel(ctx) {
			summary.Cancelled = true
			summary.Result = ResultCancelled
			logger.Info().Msg("sitetag: pass cancelled")
			return *summary
		}

		if cancelled := s.scanDownloader(ctx, p, name); cancelled {
			summary.Cancelled = true
			summary.Result = ResultCancelled
			logger.Info().Str("downloader", name).Msg("sitetag: pass cancelled")
			return *summary
		}
	}

	return *summary
}

// observeCancel reports and clears a pending cancellation.
func (s *Service) observeCancel(ctx context.Context) bool {
	if s.cancel.CompareAndSwap(true, false) {
		return true
	}
	return ctx.Err() != nil
}

// scanDownloader processes every torrent of one downloader. It returns true
// when the pass was cancelled midway.
func (s *Service) scanDownloader(ctx context.Context, p *pass, name string) bool {
	ds := DownloaderSummary{Name: name}
	defer func() {
		p.summary.Downloaders = append(p.summary.Downloaders, ds)
		p.summary.Scanned += ds.Scanned
		p.summary.Tagged += ds.Tagged
		p.summary.Unchanged += ds.Unchanged
		p.summary.Skipped += ds.Skipped
		p.summary.Failed += ds.Failed
	}()

	logger := p.logger.With().Str("downloader", name).Logger()

	backend, err := s.backends.Get(ctx, name)
	if err != nil {
		ds.Unreachable = true
		ds.Error = err.Error()
		logger.Warn().Err(err).Msg("sitetag: downloader not connected, skipping")
		return false
	}

	logger.Info().Msg("sitetag: scanning downloader")

	torrents, err := backend.ListTorrents(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		ds.Unreachable = true
		ds.Error = err.Error()
		logger.Warn().Err(err).Msg("sitetag: could not list torrents, skipping downloader")
		return false
	}
	if len(torrents) == 0 {
		logger.Debug().Msg("sitetag: downloader has no torrents")
		return false
	}

	for i := range torrents {
		if s.observeCancel(ctx) {
			return true
		}

		torrent := torrents[i]
		ds.Scanned++
		s.metrics.TorrentScanned(name)

		tags, err := s.processTorrent(ctx, p, backend, &torrent)
		switch {
		case errors.Is(err, downloader.ErrMalformedTorrent):
			ds.Skipped++
			logger.Debug().Str("hash", torrent.Hash).Str("name", torrent.Name).Msg("sitetag: torrent has no hash or save path, skipping")
			s.activity.add(ActivityEvent{
				PassID: p.summary.ID, Downloader: name, Hash: torrent.Hash, Name: torrent.Name,
				Outcome: OutcomeSkipped, Reason: err.Error(), Source: SourcePass, Timestamp: s.now(),
			})
		case err != nil:
			ds.Failed++
			s.metrics.TorrentFailed(name)
			logTorrentError(logger, err).Str("hash", torrent.Hash).Str("name", torrent.Name).Msg("sitetag: failed to process torrent")
			s.activity.add(ActivityEvent{
				PassID: p.summary.ID, Downloader: name, Hash: torrent.Hash, Name: torrent.Name, Tags: tags,
				Outcome: OutcomeFailed, Reason: err.Error(), Source: SourcePass, Timestamp: s.now(),
			})
		case len(tags) == 0:
			ds.Unchanged++
		default:
			ds.Tagged++
			s.metrics.TagsWritten(name, string(SourcePass), len(tags))
			logger.Info().Str("hash", torrent.Hash).Str("name", torrent.Name).Strs("tags", tags).Msg("sitetag: tags added")
			s.activity.add(ActivityEvent{
				PassID: p.summary.ID, Downloader: name, Hash: torrent.Hash, Name: torrent.Name, Tags: tags,
				Outcome: OutcomeTagged, Source: SourcePass, Timestamp: s.now(),
			})
		}
	}

	logger.Info().Int("scanned", ds.Scanned).Int("tagged", ds.Tagged).Msg("sitetag: downloader done")
	return false
}

// processTorrent resolves and writes tags for a single torrent. A panic is
// turned into an error so the pass moves on.
func (s *Service) processTorrent(ctx context.Context, p *pass, backend downloader.Backend, torrent *downloader.Torrent) (tags []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing torrent: %v", r)
		}
	}()

	if err := torrent.Validate(); err != nil {
		return nil, err
	}

	tags = tagging.Resolve(tagging.Input{
		Trackers:    torrent.Trackers,
		SavePath:    torrent.SavePath,
		CurrentTags: torrent.Tags,
		SiteNames:   p.siteNames,
		Aliases:     p.aliases,
		PathLabels:  p.pathLabels,
		Lookup:      p.lookup,
	})
	if len(tags) == 0 {
		return nil, nil
	}

	if err := backend.WriteTags(ctx, torrent.Hash, tags, torrent); err != nil {
		return tags, err
	}
	return tags, nil
}

// logTorrentError picks the level for a per-torrent failure.
func logTorrentError(logger zerolog.Logger, err error) *zerolog.Event {
	if errors.Is(err, downloader.ErrBackendUnreachable) {
		return logger.Warn().Err(err)
	}
	return logger.Error().Err(err)
}
