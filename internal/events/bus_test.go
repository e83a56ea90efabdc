// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDownloadAdded(t *testing.T) {
	payload := []byte(`{"downloader":"qb1","context":{"torrent_info":{"site_name":"SiteX"}},"hash":"abc123"}`)

	evt, err := DecodeDownloadAdded(payload)
	require.NoError(t, err)
	assert.Equal(t, "qb1", evt.Downloader)
	assert.Equal(t, "SiteX", evt.Context.TorrentInfo.SiteName)
	assert.Equal(t, "abc123", evt.Hash)

	_, err = DecodeDownloadAdded([]byte("not json"))
	require.Error(t, err)
}

func TestEncodeDownloadAddedShape(t *testing.T) {
	payload, err := EncodeDownloadAdded(DownloadAdded{
		Downloader: "qb1",
		Context:    TorrentContext{TorrentInfo: TorrentInfo{SiteName: "SiteX"}},
		Hash:       "abc123",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"downloader":"qb1","context":{"torrent_info":{"site_name":"SiteX"}},"hash":"abc123"}`, string(payload))
}

func TestBusDeliversDownloadAdded(t *testing.T) {
	bus, err := NewBus()
	require.NoError(t, err)

	received := make(chan DownloadAdded, 1)
	bus.SubscribeDownloadAdded("test", func(_ context.Context, evt DownloadAdded) {
		received <- evt
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = bus.Run(ctx) }()
	t.Cleanup(func() { _ = bus.Close() })

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	evt := DownloadAdded{Downloader: "qb1", Hash: "abc123"}
	evt.Context.TorrentInfo.SiteName = "SiteX"
	require.NoError(t, bus.PublishDownloadAdded(context.Background(), evt))

	select {
	case got := <-received:
		assert.Equal(t, evt, got)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus, err := NewBus()
	require.NoError(t, err)

	calls := make(chan struct{}, 2)
	bus.SubscribeDownloadAdded("panicky", func(context.Context, DownloadAdded) {
		calls <- struct{}{}
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = bus.Run(ctx) }()
	t.Cleanup(func() { _ = bus.Close() })
	<-bus.Running()

	require.NoError(t, bus.PublishDownloadAdded(context.Background(), DownloadAdded{Downloader: "qb1", Hash: "a"}))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}
