// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader defines the uniform view of a torrent client that the
// tagger reads from and writes tags to.
package downloader

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/sitetag/internal/tagging"
)

type Kind string

const (
	// KindQbittorrent adds tags without touching the ones already set.
	KindQbittorrent Kind = "qbittorrent"
	// KindTransmission replaces the whole label list on every write.
	KindTransmission Kind = "transmission"
)

var (
	ErrBackendUnreachable = errors.New("downloader unreachable")
	ErrTorrentNotFound    = errors.New("torrent not found")
	ErrMalformedTorrent   = errors.New("torrent has no hash or save path")
	ErrUnsupportedKind    = errors.New("unsupported downloader type")
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindQbittorrent, "qbit", "qb":
		return KindQbittorrent, nil
	case KindTransmission, "tr":
		return KindTransmission, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedKind, "%q", s)
	}
}

// Torrent is the backend-agnostic projection of one torrent.
type Torrent struct {
	Hash     string   `json:"hash"`
	Name     string   `json:"name"`
	Size     int64    `json:"size"`
	SavePath string   `json:"savePath"`
	Tags     []string `json:"tags"`
	// Trackers are announce URLs in tier order. DHT, PeX and LSD entries are
	// never included.
	Trackers []string `json:"trackers"`
	// Handle is the backend's own numeric id, zero when torrents are addressed by hash.
	Handle int64 `json:"-"`
}

// Validate reports ErrMalformedTorrent when the torrent cannot be acted on.
func (t Torrent) Validate() error {
	if strings.TrimSpace(t.Hash) == "" || strings.TrimSpace(t.SavePath) == "" {
		return ErrMalformedTorrent
	}
	return nil
}

// Backend is one configured downloader.
type Backend interface {
	Name() string
	Kind() Kind

	// ListTorrents returns every torrent. ErrBackendUnreachable is returned when
	// the downloader cannot be queried.
	ListTorrents(ctx context.Context) ([]Torrent, error)

	// GetTorrent returns ErrTorrentNotFound when hash does not resolve.
	GetTorrent(ctx context.Context, hash string) (Torrent, error)

	// WriteTags makes sure tags are set on the torrent without dropping the ones
	// it already has. current is the torrent as last read by the caller, or nil
	// when the caller does not hold it, in which case it is fetched first.
	// Writing no tags is a no-op.
	WriteTags(ctx context.Context, hash string, tags []string, current *Torrent) error
}

// SplitTags parses a comma-joined tag string.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}

	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// MissingTags returns the tags from add whose key is not among existing.
// Blank tags and repeats within add are dropped.
func MissingTags(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, tag := range existing {
		seen[tagging.TagKey(tag)] = struct{}{}
	}

	var missing []string
	for _, tag := range add {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := tagging.TagKey(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, trimmed)
	}
	return missing
}
