// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sites

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/sitetag/internal/models"
)

type SiteUpserter interface {
	Upsert(ctx context.Context, name string, domains []string) (*models.Site, error)
}

type importFile struct {
	Sites []importSite `yaml:"sites"`
}

type importSite struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
}

// ImportYAML upserts every site listed in r and returns how many were written.
//
//	sites:
//	  - name: ExampleSite
//	    domains: [example-site.com, tracker.example-site.org]
func ImportYAML(ctx context.Context, store SiteUpserter, r io.Reader) (int, error) {
	var file importFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "decode sites yaml")
	}

	written := 0
	for i, site := range file.Sites {
		if strings.TrimSpace(site.Name) == "" {
			return written, errors.Errorf("site #%d has no name", i+1)
		}
		if _, err := store.Upsert(ctx, site.Name, site.Domains); err != nil {
			return written, errors.Wrapf(err, "upsert site %q", site.Name)
		}
		written++
	}

	return written, nil
}
