// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent to downloader RPC endpoints that accept one.
var UserAgent = fmt.Sprintf("sitetag/%s", Version)

// String returns a one-line description of the build.
func String() string {
	if Commit == "" {
		return Version
	}
	if Date == "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}
