// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sites

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/sitetag/internal/models"
)

const (
	DefaultSnapshotTTL = 5 * time.Minute
	snapshotKey        = "directory"
)

type SiteLister interface {
	List(ctx context.Context) ([]*models.Site, error)
}

// Provider hands out cached directory snapshots built from the site store.
type Provider struct {
	store SiteLister
	cache *ttlcache.Cache[string, *Directory]
	group singleflight.Group
}

func NewProvider(store SiteLister, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	return &Provider{
		store: store,
		cache: ttlcache.New(ttlcache.Options[string, *Directory]{}.SetDefaultTTL(ttl)),
	}
}

// Snapshot returns the cached directory, rebuilding it once for all concurrent
// callers when it has expired.
func (p *Provider) Snapshot(ctx context.Context) (*Directory, error) {
	if dir, ok := p.cache.Get(snapshotKey); ok {
		return dir, nil
	}

	v, err, _ := p.group.Do(snapshotKey, func() (any, error) {
		if dir, ok := p.cache.Get(snapshotKey); ok {
			return dir, nil
		}

		list, err := p.store.List(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list sites")
		}

		dir := NewDirectory(list)
		p.cache.Set(snapshotKey, dir, ttlcache.DefaultTTL)

		log.Debug().Int("sites", dir.Len()).Msg("sites: directory snapshot rebuilt")
		return dir, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Directory), nil
}

// Invalidate drops the cached snapshot so the next call rebuilds it.
func (p *Provider) Invalidate() {
	p.cache.Delete(snapshotKey)
}

func (p *Provider) Close() {
	p.cache.Close()
}
