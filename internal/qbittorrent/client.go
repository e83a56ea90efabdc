// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
)

const (
	defaultTimeout         = 60 * time.Second
	minHealthCheckInterval = 20 * time.Second
)

var tagsMinVersion = semver.MustParse("2.3.0")

// api is the part of the WebUI client the tagger relies on.
type api interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	AddTagsCtx(ctx context.Context, hashes []string, tags string) error
}

// Client is a qBittorrent downloader. Tags are added, never replaced, so
// existing tags survive every write.
type Client struct {
	api  api
	name string
	host string

	mu            sync.RWMutex
	webAPIVersion string
	supportsTags  bool

	healthMu        sync.RWMutex
	isHealthy       bool
	lastHealthCheck time.Time
}

var _ downloader.Backend = (*Client)(nil)

// NewClient logs in and probes the WebAPI version.
func NewClient(ctx context.Context, cfg domain.DownloaderConfig) (*Client, error) {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	qbtCfg := qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.BasicUser != "" {
		qbtCfg.BasicUser = cfg.BasicUser
		qbtCfg.BasicPass = cfg.BasicPass
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return newClient(ctx, cfg.Name, cfg.Host, qbt.NewClient(qbtCfg))
}

func newClient(ctx context.Context, name, host string, a api) (*Client, error) {
	if err := a.LoginCtx(ctx); err != nil {
		return nil, errors.Wrapf(downloader.ErrBackendUnreachable, "qbittorrent %s: login: %v", name, err)
	}

	client := &Client{
		api:  a,
		name: name,
		host: host,
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("downloader", name).
			Str("host", host).
			Msg("Failed to refresh qBittorrent capabilities during client creation")
		client.updateHealthStatus(false)
	} else {
		client.updateHealthStatus(true)
	}

	log.Debug().
		Str("downloader", name).
		Str("host", host).
		Str("webAPIVersion", client.GetWebAPIVersion()).
		Bool("supportsTags", client.SupportsTags()).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Kind() downloader.Kind { return downloader.KindQbittorrent }

// RefreshCapabilities fetches the WebAPI version and recalculates feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("downloader", c.name).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; assuming tag support")
		c.supportsTags = true
		return nil
	}

	c.supportsTags = !v.LessThan(tagsMinVersion)
	return nil
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTags
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Now().Add(-minHealthCheckInterval).Before(c.GetLastHealthCheck()) {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

func (c *Client) ListTorrents(ctx context.Context) ([]downloader.Torrent, error) {
	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		c.updateHealthStatus(false)
		return nil, c.unreachable(ctx, err, "list torrents")
	}
	c.updateHealthStatus(true)

	result := make([]downloader.Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result = append(result, c.convert(ctx, torrent))
	}

	return result, nil
}

func (c *Client) GetTorrent(ctx context.Context, hash string) (downloader.Torrent, error) {
	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return downloader.Torrent{}, c.unreachable(ctx, err, "get torrent")
	}

	for _, torrent := range torrents {
		if strings.EqualFold(torrent.Hash, hash) {
			return c.convert(ctx, torrent), nil
		}
	}

	return downloader.Torrent{}, errors.Wrapf(downloader.ErrTorrentNotFound, "qbittorrent %s: %s", c.name, hash)
}

func (c *Client) WriteTags(ctx context.Context, hash string, tags []string, current *downloader.Torrent) error {
	if len(tags) == 0 {
		return nil
	}

	if !c.SupportsTags() {
		return errors.Errorf("qbittorrent %s: WebAPI %s does not support tags", c.name, c.GetWebAPIVersion())
	}

	if current == nil {
		if _, err := c.GetTorrent(ctx, hash); err != nil {
			return err
		}
	}

	// addTags only appends, the torrent keeps everything it already has
	if err := c.api.AddTagsCtx(ctx, []string{hash}, strings.Join(tags, ",")); err != nil {
		return c.unreachable(ctx, err, "add tags")
	}

	log.Trace().Str("downloader", c.name).Str("hash", hash).Strs("tags", tags).Msg("qBittorrent tags added")
	return nil
}

func (c *Client) convert(ctx context.Context, torrent qbt.Torrent) downloader.Torrent {
	trackers, err := c.api.GetTorrentTrackersCtx(ctx, torrent.Hash)
	if err != nil {
		log.Debug().Err(err).Str("downloader", c.name).Str("hash", torrent.Hash).Msg("Failed to fetch torrent trackers")
	}

	return downloader.Torrent{
		Hash:     torrent.Hash,
		Name:     torrent.Name,
		Size:     torrent.Size,
		SavePath: torrent.SavePath,
		Tags:     downloader.SplitTags(torrent.Tags),
		Trackers: announceURLs(trackers),
	}
}

func (c *Client) unreachable(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrapf(downloader.ErrBackendUnreachable, "qbittorrent %s: %s: %v", c.name, op, err)
}

// announceURLs keeps real trackers in the order qBittorrent reports them,
// which follows tier order. The DHT, PeX and LSD pseudo entries are dropped.
func announceURLs(trackers []qbt.TorrentTracker) []string {
	urls := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		if tracker.Status == qbt.TrackerStatusDisabled {
			continue
		}
		u := strings.TrimSpace(tracker.Url)
		if u == "" || strings.HasPrefix(u, "** [") {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}
