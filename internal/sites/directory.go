// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sites

import (
	"strings"

	"github.com/autobrr/sitetag/internal/models"
	"github.com/autobrr/sitetag/internal/tagging"
)

// Directory is an immutable snapshot of the known sites.
type Directory struct {
	exact      map[string]string
	registered map[string]string
	names      map[string]struct{}
	count      int
}

// NewDirectory indexes sites by each domain and by that domain's registrable
// domain. Exact domains win over registrable ones; among equal matches the
// first site in the given order wins.
func NewDirectory(list []*models.Site) *Directory {
	d := &Directory{
		exact:      make(map[string]string),
		registered: make(map[string]string),
		names:      make(map[string]struct{}),
	}

	for _, site := range list {
		if site == nil {
			continue
		}
		name := strings.TrimSpace(site.Name)
		if name == "" {
			continue
		}

		d.names[tagging.TagKey(name)] = struct{}{}
		d.count++

		for _, domain := range site.Domains {
			host := normalizeHost(domain)
			if host == "" {
				continue
			}
			if _, exists := d.exact[host]; !exists {
				d.exact[host] = name
			}
			if reg := tagging.RegistrableDomain(host); reg != "" {
				if _, exists := d.registered[reg]; !exists {
					d.registered[reg] = name
				}
			}
		}
	}

	return d
}

// Lookup resolves a domain or URL to a site name.
func (d *Directory) Lookup(domainOrURL string) (string, bool) {
	if d == nil {
		return "", false
	}

	host := normalizeHost(domainOrURL)
	if host == "" {
		return "", false
	}

	candidates := []string{host}
	if reg := tagging.RegistrableDomain(host); reg != "" && reg != host {
		candidates = append(candidates, reg)
	}

	for _, candidate := range candidates {
		if name, ok := d.exact[candidate]; ok {
			return name, true
		}
		if name, ok := d.registered[candidate]; ok {
			return name, true
		}
	}

	return "", false
}

// Names returns the set of known site names keyed by tagging.TagKey.
// The map must not be modified.
func (d *Directory) Names() map[string]struct{} {
	if d == nil {
		return nil
	}
	return d.names
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return d.count
}

func normalizeHost(raw string) string {
	return strings.TrimPrefix(tagging.Hostname(raw), "www.")
}
