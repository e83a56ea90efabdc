// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sitetag.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(1) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.ExecContext(context.Background(), "INSERT INTO sites (name, domains) VALUES (?, ?)", "ExampleSite", "example-site.com")
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
}

func TestNewInMemory(t *testing.T) {
	db, err := New(MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(), "INSERT INTO sites (name) VALUES ('a')")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(1) FROM sites").Scan(&n))
	assert.Equal(t, 1, n)
}
