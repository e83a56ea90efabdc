// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tagging

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Hostname extracts the lowercased host from a URL or bare domain.
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// RegistrableDomain returns the public-suffix registrable domain (eTLD+1) of a
// URL or host. IP addresses and hosts without a known suffix are returned as-is.
func RegistrableDomain(raw string) string {
	host := Hostname(raw)
	if host == "" {
		return ""
	}

	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
