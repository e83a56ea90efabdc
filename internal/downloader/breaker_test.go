// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBackend struct {
	listErr error
	getErr  error
	calls   int
}

func (f *flakyBackend) Name() string { return "flaky" }
func (f *flakyBackend) Kind() Kind   { return KindQbittorrent }

func (f *flakyBackend) ListTorrents(context.Context) ([]Torrent, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []Torrent{{Hash: "abc", SavePath: "/data"}}, nil
}

func (f *flakyBackend) GetTorrent(_ context.Context, hash string) (Torrent, error) {
	f.calls++
	if f.getErr != nil {
		return Torrent{}, f.getErr
	}
	return Torrent{Hash: hash, SavePath: "/data"}, nil
}

func (f *flakyBackend) WriteTags(context.Context, string, []string, *Torrent) error {
	f.calls++
	return nil
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	backend := &flakyBackend{}
	b := WithBreaker(backend, DefaultBreakerSettings())

	torrents, err := b.ListTorrents(context.Background())
	require.NoError(t, err)
	require.Len(t, torrents, 1)
	assert.Equal(t, "abc", torrents[0].Hash)

	torrent, err := b.GetTorrent(context.Background(), "def")
	require.NoError(t, err)
	assert.Equal(t, "def", torrent.Hash)

	require.NoError(t, b.WriteTags(context.Background(), "def", []string{"x"}, nil))
	assert.Equal(t, "flaky", b.Name())
	assert.Equal(t, KindQbittorrent, b.Kind())
	assert.Same(t, backend, b.Unwrap())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	backend := &flakyBackend{listErr: errors.Wrap(ErrBackendUnreachable, "dial tcp")}

	var transitions []gobreaker.State
	b := WithBreaker(backend, BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Hour,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	for range 2 {
		_, err := b.ListTorrents(context.Background())
		require.ErrorIs(t, err, ErrBackendUnreachable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	// open circuit fails fast without reaching the backend
	_, err := b.ListTorrents(context.Background())
	require.ErrorIs(t, err, ErrBackendUnreachable)
	assert.Equal(t, 2, backend.calls)
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	backend := &flakyBackend{getErr: ErrTorrentNotFound}
	b := WithBreaker(backend, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Hour})

	for range 3 {
		_, err := b.GetTorrent(context.Background(), "missing")
		require.ErrorIs(t, err, ErrTorrentNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, backend.calls)
}
