// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/sitetag/internal/database"
	"github.com/autobrr/sitetag/internal/models"
	"github.com/autobrr/sitetag/internal/sites"
)

func RunSitesCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	command := &cobra.Command{
		Use:   "sites",
		Short: "Manage the known-site directory",
	}

	command.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")

	openStore := func() (*models.SiteStore, func(), error) {
		cfg, err := NewApplication(configDir, dataDir, "").loadConfig()
		if err != nil {
			return nil, nil, err
		}
		db, err := database.New(cfg.GetDatabasePath())
		if err != nil {
			return nil, nil, errors.Wrap(err, "initialize database")
		}
		return models.NewSiteStore(db), func() { _ = db.Close() }, nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List known sites and their domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			all, err := store.List(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "list sites")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDOMAINS")
			for _, site := range all {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", site.ID, site.Name, strings.Join(site.Domains, ", "))
			}
			return tw.Flush()
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update sites from a YAML file",
		Long: `Create or update sites from a YAML file. Existing sites with the same
name get their domains replaced.

  sites:
    - name: ExampleSite
      domains: [example-site.com, tracker.example-site.org]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open import file")
			}
			defer f.Close()

			store, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := sites.ImportYAML(cmd.Context(), store, f)
			if err != nil {
				return err
			}

			cmd.Printf("Imported %d sites\n", count)
			return nil
		},
	}

	command.AddCommand(list, importCmd)

	return command
}
