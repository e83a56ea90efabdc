// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tagging

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// LookupFunc resolves a domain (or site URL) to a known site name.
type LookupFunc func(domain string) (string, bool)

// Input is everything Resolve looks at for one torrent.
type Input struct {
	// Trackers in tier order, pseudo-trackers already removed.
	Trackers    []string
	SavePath    string
	CurrentTags []string
	// SiteNames is the full set of known site names, keyed by TagKey.
	SiteNames  map[string]struct{}
	Aliases    Table
	PathLabels Table
	Lookup     LookupFunc
}

// TagKey is the comparison form of a tag.
func TagKey(tag string) string {
	return norm.NFC.String(strings.TrimSpace(tag))
}

// Resolve returns the tags that should be added to a torrent. A nil result
// means nothing needs to change.
//
// At most one site tag is produced: the first tracker whose alias or registrable
// domain is a known site wins. It is skipped entirely when a current tag already
// names a known site. Every path label whose key occurs in the save path is added.
// Candidates already present in the current tags are dropped.
func Resolve(in Input) []string {
	current := make(map[string]struct{}, len(in.CurrentTags))
	classified := false
	for _, tag := range in.CurrentTags {
		key := TagKey(tag)
		if key == "" {
			continue
		}
		current[key] = struct{}{}
		if _, ok := in.SiteNames[key]; ok {
			classified = true
		}
	}

	var candidates []string

	if !classified && in.Lookup != nil {
		if site, ok := resolveSite(in.Trackers, in.Aliases, in.Lookup); ok {
			candidates = append(candidates, site)
		}
	}

	candidates = append(candidates, in.PathLabels.AllMatches(in.SavePath)...)

	var out []string
	for _, tag := range candidates {
		if _, ok := current[TagKey(tag)]; ok {
			continue
		}
		out = append(out, tag)
	}

	return out
}

func resolveSite(trackers []string, aliases Table, lookup LookupFunc) (string, bool) {
	for _, tracker := range trackers {
		if tracker == "" {
			continue
		}

		domain, ok := aliases.FirstMatch(tracker)
		if !ok {
			domain = RegistrableDomain(tracker)
		}
		if domain == "" {
			continue
		}

		if site, found := lookup(domain); found && site != "" {
			return site, true
		}
	}
	return "", false
}
