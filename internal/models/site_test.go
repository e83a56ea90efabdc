// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sitetag/internal/database"
)

func newTestSiteStore(t *testing.T) *SiteStore {
	t.Helper()

	db, err := database.New(database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSiteStore(db)
}

func TestSiteStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestSiteStore(t)

	created, err := store.Create(ctx, &Site{Name: " ExampleSite ", Domains: []string{"Example-Site.com", "example-site.com", " ", "tracker.example.org"}})
	require.NoError(t, err)
	assert.Equal(t, "ExampleSite", created.Name)
	assert.Equal(t, []string{"example-site.com", "tracker.example.org"}, created.Domains)
	assert.False(t, created.CreatedAt.IsZero())

	created.Domains = []string{"other.net"}
	updated, err := store.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, []string{"other.net"}, updated.Domains)

	sites, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)

	require.NoError(t, store.Delete(ctx, created.ID))

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrSiteNotFound)
	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrSiteNotFound)
}

func TestSiteStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestSiteStore(t)

	first, err := store.Upsert(ctx, "SiteX", []string{"sitex.org"})
	require.NoError(t, err)

	second, err := store.Upsert(ctx, "SiteX", []string{"sitex.org", "sitex.net"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"sitex.org", "sitex.net"}, second.Domains)

	_, err = store.Upsert(ctx, "  ", nil)
	assert.Error(t, err)
}

func TestSiteStoreUpdateMissing(t *testing.T) {
	store := newTestSiteStore(t)

	_, err := store.Update(context.Background(), &Site{ID: 42, Name: "Nope"})
	assert.ErrorIs(t, err, ErrSiteNotFound)
}
