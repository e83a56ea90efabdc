// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Table
	}{
		{name: "empty", text: "", want: nil},
		{
			name: "preserves_order",
			text: "b:Two\na:One\n",
			want: Table{{Key: "b", Value: "Two"}, {Key: "a", Value: "One"}},
		},
		{
			name: "url_on_both_sides",
			text: "https://tracker.example.org:2710/announce:https://example-site.com/",
			want: Table{{Key: "https://tracker.example.org:2710/announce", Value: "https://example-site.com/"}},
		},
		{
			name: "host_key_url_value",
			text: "tracker.example.org:https://example-site.com",
			want: Table{{Key: "tracker.example.org", Value: "https://example-site.com"}},
		},
		{
			name: "windows_drive",
			text: "D:\\Downloads\\Movies:Movies",
			want: Table{{Key: "D:\\Downloads\\Movies", Value: "Movies"}},
		},
		{
			name: "url_key_with_port",
			text: "tracker.example.org:2710:ExampleSite",
			want: Table{{Key: "tracker.example.org:2710", Value: "ExampleSite"}},
		},
		{
			name: "skips_unparsable_lines",
			text: "no separator\n:missing key\nmissing value:\n  # comment\n\n /data/movies : Movies \r\n",
			want: Table{{Key: "/data/movies", Value: "Movies"}},
		},
		{
			name: "placeholder_is_just_a_rule",
			text: "tracker地址:站点网址",
			want: Table{{Key: "tracker地址", Value: "站点网址"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTable(tt.text))
		})
	}
}

func TestTableMatching(t *testing.T) {
	table := ParseTable("movies:Movies\n/data:Data\nmovies:Films")

	value, ok := table.FirstMatch("/data/movies/x")
	assert.True(t, ok)
	assert.Equal(t, "Movies", value)

	assert.Equal(t, []string{"Movies", "Data", "Films"}, table.AllMatches("/data/movies/x"))
	assert.Nil(t, table.AllMatches(""))

	_, ok = table.FirstMatch("/tv")
	assert.False(t, ok)
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://tracker.example-site.com/announce", want: "example-site.com"},
		{in: "udp://open.tracker.example.co.uk:6969/announce", want: "example.co.uk"},
		{in: "http://WWW.Example.org./announce?passkey=abc", want: "example.org"},
		{in: "example-site.com", want: "example-site.com"},
		{in: "http://192.168.1.10:8080/announce", want: "192.168.1.10"},
		{in: "http://localhost/announce", want: "localhost"},
		{in: "", want: ""},
		{in: "://", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RegistrableDomain(tt.in))
		})
	}
}
