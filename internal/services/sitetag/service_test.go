// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sitetag

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
	"github.com/autobrr/sitetag/internal/events"
	"github.com/autobrr/sitetag/internal/metrics"
	"github.com/autobrr/sitetag/internal/models"
	"github.com/autobrr/sitetag/internal/sites"
)

type staticConfig struct {
	cfg domain.TaggingConfig
}

func (s *staticConfig) Tagging() domain.TaggingConfig { return s.cfg }

type write struct {
	hash    string
	tags    []string
	current *downloader.Torrent
}

type fakeBackend struct {
	name     string
	kind     downloader.Kind
	torrents []downloader.Torrent
	listErr  error
	writeErr map[string]error
	panicOn  string
	onWrite  func(n int)

	mu     sync.Mutex
	writes []write
	listed int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Kind() downloader.Kind {
	if f.kind == "" {
		return downloader.KindQbittorrent
	}
	return f.kind
}

func (f *fakeBackend) ListTorrents(context.Context) ([]downloader.Torrent, error) {
	f.mu.Lock()
	f.listed++
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.torrents, nil
}

func (f *fakeBackend) GetTorrent(_ context.Context, hash string) (downloader.Torrent, error) {
	for _, torrent := range f.torrents {
		if torrent.Hash == hash {
			return torrent, nil
		}
	}
	return downloader.Torrent{}, downloader.ErrTorrentNotFound
}

func (f *fakeBackend) WriteTags(ctx context.Context, hash string, tags []string, current *downloader.Torrent) error {
	if len(tags) == 0 {
		return nil
	}
	if hash == f.panicOn {
		panic("write exploded")
	}
	if err := f.writeErr[hash]; err != nil {
		return err
	}
	if current == nil {
		if _, err := f.GetTorrent(ctx, hash); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.writes = append(f.writes, write{hash: hash, tags: slices.Clone(tags), current: current})
	n := len(f.writes)
	f.mu.Unlock()

	if f.onWrite != nil {
		f.onWrite(n)
	}
	return nil
}

func (f *fakeBackend) writtenHashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		hashes = append(hashes, w.hash)
	}
	return hashes
}

type fakeBackends struct {
	order    []string
	backends map[string]*fakeBackend
	getErr   map[string]error
}

func newFakeBackends(list ...*fakeBackend) *fakeBackends {
	fb := &fakeBackends{backends: map[string]*fakeBackend{}, getErr: map[string]error{}}
	for _, b := range list {
		fb.order = append(fb.order, b.name)
		fb.backends[b.name] = b
	}
	return fb
}

func (f *fakeBackends) Names(selection []string) []string {
	if len(selection) == 0 {
		return slices.Clone(f.order)
	}
	var names []string
	for _, name := range selection {
		if _, ok := f.backends[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (f *fakeBackends) Get(_ context.Context, name string) (downloader.Backend, error) {
	if err := f.getErr[name]; err != nil {
		return nil, err
	}
	b, ok := f.backends[name]
	if !ok {
		return nil, errors.New("not configured")
	}
	return b, nil
}

type staticDirectory struct {
	dir *sites.Directory
	err error
}

func (s *staticDirectory) Snapshot(context.Context) (*sites.Directory, error) {
	return s.dir, s.err
}

func exampleDirectory() *staticDirectory {
	return &staticDirectory{dir: sites.NewDirectory([]*models.Site{
		{ID: 1, Name: "ExampleSite", Domains: []string{"example-site.com"}},
		{ID: 2, Name: "OtherSite", Domains: []string{"other-site.org"}},
	})}
}

func newTestService(cfg domain.TaggingConfig, backends *fakeBackends, dir *staticDirectory) *Service {
	return NewService(DefaultConfig(), &staticConfig{cfg: cfg}, backends, dir, metrics.NewManager())
}

func TestRunPassScenario(t *testing.T) {
	qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{{
		Hash:     "abc",
		Name:     "Some.Movie",
		SavePath: "/downloads/movies/x",
		Tags:     []string{},
		Trackers: []string{"https://tracker.example-site.com/announce"},
	}}}
	cfg := domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(qb), exampleDirectory())

	summary := svc.RunPass(context.Background(), "manual")

	require.Len(t, qb.writes, 1)
	assert.Equal(t, "abc", qb.writes[0].hash)
	assert.ElementsMatch(t, []string{"ExampleSite", "Movies"}, qb.writes[0].tags)
	require.NotNil(t, qb.writes[0].current, "pass hands the listed torrent to the writer")

	assert.Equal(t, ResultCompleted, summary.Result)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Tagged)
	assert.False(t, summary.Cancelled)

	last, ok := svc.LastSummary()
	require.True(t, ok)
	assert.Equal(t, summary.ID, last.ID)

	activity := svc.GetActivity()
	require.Len(t, activity, 1)
	assert.Equal(t, OutcomeTagged, activity[0].Outcome)
	assert.Equal(t, SourcePass, activity[0].Source)
}

func TestRunPassIsIdempotent(t *testing.T) {
	torrent := downloader.Torrent{
		Hash:     "abc",
		SavePath: "/downloads/movies/x",
		Trackers: []string{"https://tracker.example-site.com/announce"},
	}
	qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{torrent}}
	cfg := domain.TaggingConfig{Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(qb), exampleDirectory())

	svc.RunPass(context.Background(), "manual")
	require.Len(t, qb.writes, 1)

	qb.torrents[0].Tags = append([]string{}, qb.writes[0].tags...)
	summary := svc.RunPass(context.Background(), "manual")

	assert.Len(t, qb.writes, 1)
	assert.Equal(t, 1, summary.Unchanged)
}

func TestRunPassSkipsUnreachableAndMalformed(t *testing.T) {
	down := &fakeBackend{name: "qb1", listErr: errors.Wrap(downloader.ErrBackendUnreachable, "dial tcp")}
	tr := &fakeBackend{name: "tr1", kind: downloader.KindTransmission, torrents: []downloader.Torrent{
		{Hash: "", SavePath: "/downloads/movies"},
		{Hash: "nopath", SavePath: ""},
		{Hash: "ok", SavePath: "/downloads/movies"},
	}}
	offline := &fakeBackend{name: "qb2"}
	backends := newFakeBackends(down, tr, offline)
	backends.getErr["qb2"] = downloader.ErrBackendUnreachable

	cfg := domain.TaggingConfig{Downloaders: []string{"qb1", "qb2", "tr1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, backends, exampleDirectory())

	summary := svc.RunPass(context.Background(), "manual")

	assert.Equal(t, []string{"ok"}, tr.writtenHashes())
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Tagged)
	require.Len(t, summary.Downloaders, 3)
	assert.True(t, summary.Downloaders[0].Unreachable)
	assert.True(t, summary.Downloaders[1].Unreachable)
	assert.False(t, summary.Downloaders[2].Unreachable)
}

func TestRunPassIsolatesTorrentFailures(t *testing.T) {
	qb := &fakeBackend{
		name: "qb1",
		torrents: []downloader.Torrent{
			{Hash: "boom", SavePath: "/downloads/movies"},
			{Hash: "err", SavePath: "/downloads/movies"},
			{Hash: "ok", SavePath: "/downloads/movies"},
		},
		panicOn:  "boom",
		writeErr: map[string]error{"err": errors.New("write rejected")},
	}
	cfg := domain.TaggingConfig{Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(qb), exampleDirectory())

	summary := svc.RunPass(context.Background(), "manual")

	assert.Equal(t, []string{"ok"}, qb.writtenHashes())
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Tagged)

	activity := svc.GetActivity()
	require.Len(t, activity, 3)
	assert.Equal(t, OutcomeFailed, activity[0].Outcome)
	assert.Contains(t, activity[0].Reason, "panic")
}

func TestRunPassCancellationMidway(t *testing.T) {
	var torrents []downloader.Torrent
	for i := 1; i <= 10; i++ {
		torrents = append(torrents, downloader.Torrent{Hash: fmt.Sprintf("t%d", i), SavePath: "/downloads/movies"})
	}

	first := &fakeBackend{name: "qb1", torrents: torrents}
	second := &fakeBackend{name: "tr1", torrents: []downloader.Torrent{{Hash: "x", SavePath: "/downloads/movies"}}}

	cfg := domain.TaggingConfig{Downloaders: []string{"qb1", "tr1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(first, second), exampleDirectory())

	first.onWrite = func(n int) {
		if n == 3 {
			assert.True(t, svc.Cancel())
		}
	}

	summary := svc.RunPass(context.Background(), "manual")

	assert.Equal(t, []string{"t1", "t2", "t3"}, first.writtenHashes())
	assert.Empty(t, second.writtenHashes())
	assert.Zero(t, second.listed)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, ResultCancelled, summary.Result)

	// the flag is consumed, the next pass runs to completion
	first.onWrite = nil
	summary = svc.RunPass(context.Background(), "manual")
	assert.False(t, summary.Cancelled)
	assert.Len(t, second.writtenHashes(), 1)
}

func TestCancelWhileIdle(t *testing.T) {
	tests := []struct {
		name  string
		setup func(svc *Service)
	}{
		{name: "cancel_before_pass", setup: func(svc *Service) { assert.False(t, svc.Cancel()) }},
		{name: "flag_left_by_finished_pass", setup: func(svc *Service) { svc.cancel.Store(true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{
				{Hash: "a", SavePath: "/downloads/movies"},
				{Hash: "b", SavePath: "/downloads/movies"},
			}}
			cfg := domain.TaggingConfig{Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
			svc := newTestService(cfg, newFakeBackends(qb), exampleDirectory())

			tt.setup(svc)
			summary := svc.RunPass(context.Background(), "schedule")

			assert.False(t, summary.Cancelled)
			assert.Equal(t, ResultCompleted, summary.Result)
			assert.Equal(t, []string{"a", "b"}, qb.writtenHashes())
			assert.False(t, svc.Running())
		})
	}
}

func TestRunPassWithoutSelection(t *testing.T) {
	qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{{Hash: "abc", SavePath: "/downloads/movies"}}}
	svc := newTestService(domain.TaggingConfig{SavePathMap: "movies:Movies"}, newFakeBackends(qb), exampleDirectory())

	summary := svc.RunPass(context.Background(), "manual")

	assert.Equal(t, ResultNoop, summary.Result)
	assert.Zero(t, qb.listed)
}

func TestRunPassDirectoryFailureStillAppliesPathLabels(t *testing.T) {
	qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{{
		Hash:     "abc",
		SavePath: "/downloads/movies",
		Trackers: []string{"https://tracker.example-site.com/announce"},
	}}}
	cfg := domain.TaggingConfig{Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(qb), &staticDirectory{err: errors.New("database is locked")})

	svc.RunPass(context.Background(), "manual")

	require.Len(t, qb.writes, 1)
	assert.Equal(t, []string{"Movies"}, qb.writes[0].tags)
}

func TestTryRunPassRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{{Hash: "abc", SavePath: "/downloads/movies"}}}
	qb.onWrite = func(int) {
		close(started)
		<-release
	}
	cfg := domain.TaggingConfig{Downloaders: []string{"qb1"}, SavePathMap: "movies:Movies"}
	svc := newTestService(cfg, newFakeBackends(qb), exampleDirectory())

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunPass(context.Background(), "schedule")
	}()

	<-started
	assert.True(t, svc.Running())
	_, err := svc.TryRunPass(context.Background(), "manual")
	require.ErrorIs(t, err, ErrPassRunning)

	close(release)
	<-done
	assert.False(t, svc.Running())
}

func TestHandleDownloadAdded(t *testing.T) {
	newEvent := func(downloaderName, hash, site string) events.DownloadAdded {
		evt := events.DownloadAdded{Downloader: downloaderName, Hash: hash}
		evt.Context.TorrentInfo.SiteName = site
		return evt
	}

	tests := []struct {
		name       string
		cfg        domain.TaggingConfig
		evt        events.DownloadAdded
		wantWrites []write
	}{
		{
			name:       "tags_added_torrent",
			cfg:        domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}},
			evt:        newEvent("qb1", "abc123", "SiteX"),
			wantWrites: []write{{hash: "abc123", tags: []string{"SiteX"}}},
		},
		{
			name: "disabled",
			cfg:  domain.TaggingConfig{Enabled: false, Downloaders: []string{"qb1"}},
			evt:  newEvent("qb1", "abc123", "SiteX"),
		},
		{
			name: "missing_site",
			cfg:  domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}},
			evt:  newEvent("qb1", "abc123", ""),
		},
		{
			name: "missing_hash",
			cfg:  domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}},
			evt:  newEvent("qb1", "", "SiteX"),
		},
		{
			name: "downloader_not_selected",
			cfg:  domain.TaggingConfig{Enabled: true, Downloaders: []string{"tr1"}},
			evt:  newEvent("qb1", "abc123", "SiteX"),
		},
		{
			name: "unknown_torrent",
			cfg:  domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}},
			evt:  newEvent("qb1", "nope", "SiteX"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := &fakeBackend{name: "qb1", torrents: []downloader.Torrent{
				{Hash: "abc123", SavePath: "/downloads/movies", Trackers: []string{"https://tracker.other-site.org/announce"}},
			}}
			tr := &fakeBackend{name: "tr1"}
			cfg := tt.cfg
			cfg.SavePathMap = "movies:Movies"
			svc := newTestService(cfg, newFakeBackends(qb, tr), exampleDirectory())

			assert.NotPanics(t, func() {
				svc.HandleDownloadAdded(context.Background(), tt.evt)
			})

			require.Len(t, qb.writes, len(tt.wantWrites))
			for i, want := range tt.wantWrites {
				assert.Equal(t, want.hash, qb.writes[i].hash)
				assert.Equal(t, want.tags, qb.writes[i].tags)
				assert.Nil(t, qb.writes[i].current)
			}
		})
	}
}

func TestHandleDownloadAddedSwallowsPanics(t *testing.T) {
	qb := &fakeBackend{name: "qb1", panicOn: "abc123"}
	svc := newTestService(domain.TaggingConfig{Enabled: true, Downloaders: []string{"qb1"}}, newFakeBackends(qb), exampleDirectory())

	evt := events.DownloadAdded{Downloader: "qb1", Hash: "abc123"}
	evt.Context.TorrentInfo.SiteName = "SiteX"

	assert.NotPanics(t, func() {
		svc.HandleDownloadAdded(context.Background(), evt)
	})
}

func TestActivityLogWraps(t *testing.T) {
	a := newActivityLog(3)
	for i := range 5 {
		a.add(ActivityEvent{Hash: fmt.Sprintf("h%d", i)})
	}

	got := a.list()
	require.Len(t, got, 3)
	assert.Equal(t, "h2", got[0].Hash)
	assert.Equal(t, "h4", got[2].Hash)
}
