// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sitetag/internal/services/sitetag"
)

func TestResolveConfigFile(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "settings")
	require.NoError(t, os.WriteFile(plain, []byte("host = \"localhost\"\n"), 0o644))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "toml_file", in: filepath.Join(dir, "custom.toml"), want: filepath.Join(dir, "custom.toml")},
		{name: "directory", in: dir, want: filepath.Join(dir, "config.toml")},
		{name: "existing_file", in: plain, want: plain},
		{name: "missing_directory", in: filepath.Join(dir, "nope"), want: filepath.Join(dir, "nope", "config.toml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveConfigFile(tt.in))
		})
	}
}

func TestPrintSummary(t *testing.T) {
	summary := sitetag.PassSummary{
		ID:      "p1",
		Result:  sitetag.ResultCompleted,
		Scanned: 3,
		Tagged:  1,
		Downloaders: []sitetag.DownloaderSummary{
			{Name: "qb1", Scanned: 3, Tagged: 1},
			{Name: "tr1", Unreachable: true},
		},
	}

	var text bytes.Buffer
	require.NoError(t, printSummary(&text, summary, false))
	assert.Contains(t, text.String(), "pass p1 completed: scanned 3, tagged 1")
	assert.Contains(t, text.String(), "unreachable")

	var raw bytes.Buffer
	require.NoError(t, printSummary(&raw, summary, true))
	var decoded sitetag.PassSummary
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	assert.Equal(t, "p1", decoded.ID)
	assert.Len(t, decoded.Downloaders, 2)
}
