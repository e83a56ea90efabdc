// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const TopicDownloadAdded = "download.added"

// DownloadAdded is sent by whatever added a torrent to a downloader. The site
// has already been resolved by the sender.
type DownloadAdded struct {
	Downloader string         `json:"downloader"`
	Context    TorrentContext `json:"context"`
	Hash       string         `json:"hash"`
}

type TorrentContext struct {
	TorrentInfo TorrentInfo `json:"torrent_info"`
}

type TorrentInfo struct {
	SiteName string `json:"site_name"`
}

func EncodeDownloadAdded(evt DownloadAdded) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, errors.Wrap(err, "encode download-added event")
	}
	return payload, nil
}

func DecodeDownloadAdded(payload []byte) (DownloadAdded, error) {
	var evt DownloadAdded
	if err := json.Unmarshal(payload, &evt); err != nil {
		return DownloadAdded{}, errors.Wrap(err, "decode download-added event")
	}
	return evt, nil
}
