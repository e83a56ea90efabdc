// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transmission adapts a Transmission daemon to the downloader
// contract. Transmission only knows how to replace a torrent's labels, so
// every write sends the existing labels followed by the new ones.
package transmission

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hekmon/transmissionrpc/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/buildinfo"
	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
)

const (
	defaultTimeout = 60 * time.Second
	// labels arrived with RPC version 16 (Transmission 3.00)
	labelsMinRPCVersion = 16
)

var torrentFields = []string{"id", "hashString", "name", "downloadDir", "labels", "trackers"}

type rpc interface {
	RPCVersion(ctx context.Context) (ok bool, serverVersion int64, serverMinimumVersion int64, err error)
	TorrentGet(ctx context.Context, fields []string, ids []int64) ([]transmissionrpc.Torrent, error)
	TorrentGetHashes(ctx context.Context, fields []string, hashes []string) ([]transmissionrpc.Torrent, error)
	TorrentSet(ctx context.Context, payload transmissionrpc.TorrentSetPayload) error
}

type Client struct {
	rpc  rpc
	name string

	mu         sync.RWMutex
	rpcVersion int64
	isHealthy  bool
	lastCheck  time.Time
}

var _ downloader.Backend = (*Client)(nil)

// NewClient builds the RPC client and checks the daemon is reachable.
// Credentials are carried in the endpoint URL as Transmission expects.
func NewClient(ctx context.Context, cfg domain.DownloaderConfig) (*Client, error) {
	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.TLSSkipVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per downloader
		httpClient.Transport = transport
	}

	tr, err := transmissionrpc.New(endpoint, &transmissionrpc.Config{
		CustomClient: httpClient,
		UserAgent:    buildinfo.UserAgent,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transmission %s: could not create client", cfg.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return newClient(ctx, cfg.Name, tr)
}

func newClient(ctx context.Context, name string, r rpc) (*Client, error) {
	c := &Client{rpc: r, name: name}
	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}

	log.Debug().Str("downloader", name).Int64("rpcVersion", c.RPCVersion()).Msg("Transmission client created successfully")
	return c, nil
}

// endpointURL accepts a bare host:port or a full RPC URL.
func endpointURL(cfg domain.DownloaderConfig) (*url.URL, error) {
	raw := strings.TrimSpace(cfg.Host)
	if raw == "" {
		return nil, errors.Errorf("transmission %s: host is required", cfg.Name)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "transmission %s: invalid host", cfg.Name)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/transmission/rpc"
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Kind() downloader.Kind { return downloader.KindTransmission }

func (c *Client) RPCVersion() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpcVersion
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ok, version, minimum, err := c.rpc.RPCVersion(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCheck = time.Now()

	if err != nil {
		c.isHealthy = false
		return errors.Wrapf(downloader.ErrBackendUnreachable, "transmission %s: %v", c.name, err)
	}
	if !ok {
		log.Warn().Str("downloader", c.name).Int64("rpcVersion", version).Int64("minimum", minimum).Msg("Transmission RPC version is not fully supported")
	}

	c.rpcVersion = version
	c.isHealthy = true
	return nil
}

func (c *Client) ListTorrents(ctx context.Context) ([]downloader.Torrent, error) {
	torrents, err := c.rpc.TorrentGet(ctx, torrentFields, nil)
	if err != nil {
		c.setHealthy(false)
		return nil, c.unreachable(ctx, err, "list torrents")
	}
	c.setHealthy(true)

	result := make([]downloader.Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		result = append(result, convert(torrent))
	}
	return result, nil
}

func (c *Client) GetTorrent(ctx context.Context, hash string) (downloader.Torrent, error) {
	torrents, err := c.rpc.TorrentGetHashes(ctx, torrentFields, []string{hash})
	if err != nil {
		return downloader.Torrent{}, c.unreachable(ctx, err, "get torrent")
	}

	for _, torrent := range torrents {
		if torrent.HashString != nil && strings.EqualFold(*torrent.HashString, hash) {
			return convert(torrent), nil
		}
	}
	return downloader.Torrent{}, errors.Wrapf(downloader.ErrTorrentNotFound, "transmission %s: %s", c.name, hash)
}

// WriteTags replaces the label list with the existing labels, unchanged,
// followed by the tags not already present. The read and the
// write are two RPC calls, so a label added by someone else in between is lost.
func (c *Client) WriteTags(ctx context.Context, hash string, tags []string, current *downloader.Torrent) error {
	if len(tags) == 0 {
		return nil
	}

	if v := c.RPCVersion(); v > 0 && v < labelsMinRPCVersion {
		return errors.Errorf("transmission %s: RPC version %d does not support labels", c.name, v)
	}

	if current == nil || current.Handle == 0 {
		fetched, err := c.GetTorrent(ctx, hash)
		if err != nil {
			return err
		}
		current = &fetched
	}

	additions := downloader.MissingTags(current.Tags, tags)
	if len(additions) == 0 {
		return nil
	}
	labels := append(slices.Clone(current.Tags), additions...)

	if err := c.rpc.TorrentSet(ctx, transmissionrpc.TorrentSetPayload{
		IDs:    []int64{current.Handle},
		Labels: labels,
	}); err != nil {
		return c.unreachable(ctx, err, "set labels")
	}

	log.Trace().Str("downloader", c.name).Str("hash", hash).Strs("labels", labels).Msg("Transmission labels set")
	return nil
}

func (c *Client) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isHealthy = healthy
	c.lastCheck = time.Now()
}

func (c *Client) unreachable(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrapf(downloader.ErrBackendUnreachable, "transmission %s: %s: %v", c.name, op, err)
}

func convert(t transmissionrpc.Torrent) downloader.Torrent {
	torrent := downloader.Torrent{
		Tags:     make([]string, 0, len(t.Labels)),
		Trackers: announceURLs(t.Trackers),
	}
	if t.ID != nil {
		torrent.Handle = *t.ID
	}
	if t.HashString != nil {
		torrent.Hash = *t.HashString
	}
	if t.Name != nil {
		torrent.Name = *t.Name
	}
	if t.DownloadDir != nil {
		torrent.SavePath = *t.DownloadDir
	}
	// Labels are kept verbatim so a rewrite sends them back unchanged.
	torrent.Tags = append(torrent.Tags, t.Labels...)
	return torrent
}

// announceURLs orders trackers by tier, keeping the daemon's order within a tier.
func announceURLs(trackers []transmissionrpc.Tracker) []string {
	sorted := slices.Clone(trackers)
	slices.SortStableFunc(sorted, func(a, b transmissionrpc.Tracker) int {
		switch {
		case a.Tier < b.Tier:
			return -1
		case a.Tier > b.Tier:
			return 1
		default:
			return 0
		}
	})

	urls := make([]string, 0, len(sorted))
	for _, tracker := range sorted {
		if u := strings.TrimSpace(tracker.Announce); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
