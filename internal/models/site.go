// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/autobrr/sitetag/internal/dbinterface"
)

var ErrSiteNotFound = errors.New("site not found")

// Site is a known indexing site and the domains its trackers announce from.
type Site struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Domains   []string  `json:"domains"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SiteStore struct {
	db dbinterface.Querier
}

func NewSiteStore(db dbinterface.Querier) *SiteStore {
	return &SiteStore{db: db}
}

func (s *SiteStore) List(ctx context.Context) ([]*Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, domains, created_at, updated_at
		FROM sites
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []*Site
	for rows.Next() {
		var site Site
		var domainsStr string

		if err := rows.Scan(&site.ID, &site.Name, &domainsStr, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, err
		}

		site.Domains = splitDomains(domainsStr)
		sites = append(sites, &site)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sites, nil
}

func (s *SiteStore) Get(ctx context.Context, id int) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, domains, created_at, updated_at
		FROM sites
		WHERE id = ?
	`, id)

	return scanSite(row)
}

func (s *SiteStore) GetByName(ctx context.Context, name string) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, domains, created_at, updated_at
		FROM sites
		WHERE name = ?
	`, strings.TrimSpace(name))

	return scanSite(row)
}

func scanSite(row *sql.Row) (*Site, error) {
	var site Site
	var domainsStr string

	if err := row.Scan(&site.ID, &site.Name, &domainsStr, &site.CreatedAt, &site.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}

	site.Domains = splitDomains(domainsStr)
	return &site, nil
}

func (s *SiteStore) Create(ctx context.Context, site *Site) (*Site, error) {
	if site == nil {
		return nil, errors.New("site is nil")
	}

	name := strings.TrimSpace(site.Name)
	if name == "" {
		return nil, errors.New("site name is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (name, domains)
		VALUES (?, ?)
	`, name, joinDomains(site.Domains))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *SiteStore) Update(ctx context.Context, site *Site) (*Site, error) {
	if site == nil {
		return nil, errors.New("site is nil")
	}

	name := strings.TrimSpace(site.Name)
	if name == "" {
		return nil, errors.New("site name is required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET name = ?, domains = ?
		WHERE id = ?
	`, name, joinDomains(site.Domains), site.ID)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrSiteNotFound
	}

	return s.Get(ctx, site.ID)
}

// Upsert creates the named site or replaces the domains of an existing one.
func (s *SiteStore) Upsert(ctx context.Context, name string, domains []string) (*Site, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("site name is required")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (name, domains)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET domains = excluded.domains
	`, name, joinDomains(domains)); err != nil {
		return nil, err
	}

	return s.GetByName(ctx, name)
}

func (s *SiteStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrSiteNotFound
	}

	return nil
}

func splitDomains(domainsStr string) []string {
	if domainsStr == "" {
		return nil
	}

	var domains []string
	for _, p := range strings.Split(domainsStr, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			domains = append(domains, trimmed)
		}
	}
	return domains
}

func joinDomains(domains []string) string {
	var cleaned []string
	seen := make(map[string]struct{})
	for _, d := range domains {
		trimmed := strings.ToLower(strings.TrimSpace(d))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return strings.Join(cleaned, ",")
}
