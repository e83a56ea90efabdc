// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clientpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
)

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string          { return s.name }
func (s *stubBackend) Kind() downloader.Kind { return downloader.KindQbittorrent }

func (s *stubBackend) ListTorrents(context.Context) ([]downloader.Torrent, error) {
	return nil, nil
}

func (s *stubBackend) GetTorrent(context.Context, string) (downloader.Torrent, error) {
	return downloader.Torrent{}, downloader.ErrTorrentNotFound
}

func (s *stubBackend) WriteTags(context.Context, string, []string, *downloader.Torrent) error {
	return nil
}

func testConfigs() []domain.DownloaderConfig {
	return []domain.DownloaderConfig{
		{Name: "qb1", Type: "qbittorrent", Host: "http://qb1:8080"},
		{Name: "tr1", Type: "transmission", Host: "http://tr1:9091"},
	}
}

func newTestPool(t *testing.T, configs []domain.DownloaderConfig, factory Factory) *Pool {
	t.Helper()
	p := New(configs, Options{Factory: factory, HealthCheckInterval: -1})
	p.connectDelay = time.Millisecond
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestGetConnectsOnce(t *testing.T) {
	var calls atomic.Int32
	p := newTestPool(t, testConfigs(), func(_ context.Context, cfg domain.DownloaderConfig) (downloader.Backend, error) {
		calls.Add(1)
		return &stubBackend{name: cfg.Name}, nil
	})

	first, err := p.Get(context.Background(), "qb1")
	require.NoError(t, err)
	second, err := p.Get(context.Background(), "qb1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "qb1", first.Name())
}

func TestGetUnknown(t *testing.T) {
	p := newTestPool(t, testConfigs(), nil)

	_, err := p.Get(context.Background(), "deluge1")
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestGetFailureAppliesBackoff(t *testing.T) {
	var calls atomic.Int32
	p := newTestPool(t, testConfigs(), func(context.Context, domain.DownloaderConfig) (downloader.Backend, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})

	_, err := p.Get(context.Background(), "qb1")
	require.ErrorIs(t, err, downloader.ErrBackendUnreachable)
	assert.Equal(t, int32(connectAttempts), calls.Load())

	_, err = p.Get(context.Background(), "qb1")
	require.ErrorIs(t, err, downloader.ErrBackendUnreachable)
	assert.Equal(t, int32(connectAttempts), calls.Load(), "backoff should skip the factory")

	statuses := p.Statuses()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Connected)
	assert.Contains(t, statuses[0].LastError, "connection refused")
	assert.NotNil(t, statuses[0].NextRetry)
}

func TestUnsupportedKindIsNotRetried(t *testing.T) {
	configs := []domain.DownloaderConfig{{Name: "dl1", Type: "deluge"}}
	p := newTestPool(t, configs, nil)

	_, err := p.Get(context.Background(), "dl1")
	require.ErrorIs(t, err, downloader.ErrUnsupportedKind)
}

func TestNames(t *testing.T) {
	p := newTestPool(t, testConfigs(), nil)

	assert.Equal(t, []string{"qb1", "tr1"}, p.Names(nil))
	assert.Equal(t, []string{"tr1", "qb1"}, p.Names([]string{"tr1", "unknown", "qb1", "tr1"}))
}

func TestReloadDropsChangedClients(t *testing.T) {
	var calls atomic.Int32
	p := newTestPool(t, testConfigs(), func(_ context.Context, cfg domain.DownloaderConfig) (downloader.Backend, error) {
		calls.Add(1)
		return &stubBackend{name: cfg.Name}, nil
	})

	_, err := p.Get(context.Background(), "qb1")
	require.NoError(t, err)
	_, err = p.Get(context.Background(), "tr1")
	require.NoError(t, err)

	configs := testConfigs()
	configs[0].Password = "changed"
	p.Reload(configs[:1])

	assert.Equal(t, []string{"qb1"}, p.Names(nil))
	_, err = p.Get(context.Background(), "tr1")
	require.ErrorIs(t, err, ErrClientNotFound)

	_, err = p.Get(context.Background(), "qb1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClosedPool(t *testing.T) {
	p := newTestPool(t, testConfigs(), nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Get(context.Background(), "qb1")
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 10*time.Second, calculateBackoff(1, initialBackoff, maxBackoff))
	assert.Equal(t, 20*time.Second, calculateBackoff(2, initialBackoff, maxBackoff))
	assert.Equal(t, 40*time.Second, calculateBackoff(3, initialBackoff, maxBackoff))
	assert.Equal(t, time.Minute, calculateBackoff(4, initialBackoff, maxBackoff))
	assert.Equal(t, time.Minute, calculateBackoff(40, initialBackoff, maxBackoff))
}
