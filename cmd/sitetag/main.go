// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autobrr/sitetag/internal/buildinfo"
	"github.com/autobrr/sitetag/internal/config"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "sitetag",
		Short: "Tags torrents with the site they came from",
		Long: `sitetag - adds site and save-path tags to torrents in qBittorrent
and Transmission, on a schedule or whenever a download is added.`,
	}

	rootCmd.Version = buildinfo.String()

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunPassCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.String()))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunSitesCommand())

	// serve is the default command
	if len(os.Args) == 1 {
		rootCmd.SetArgs([]string{"serve"})
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the tagger with its schedule, event hook and API",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/sitetag/ or %APPDATA%\\sitetag\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath)
		return app.runServer()
	}

	return command
}

func RunPassCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		asJSON    bool
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run a single tagging pass and exit",
		Long: `Run a single tagging pass over the selected downloaders and exit.

The pass runs even when scheduled tagging is disabled in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, dataDir, "")
			summary, err := app.runOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, asJSON)
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().BoolVar(&asJSON, "json", false, "print the pass summary as JSON")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sitetag",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the tagger.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/sitetag/config.toml
- Windows: %APPDATA%\sitetag\config.toml

You can specify either a directory path or a direct file path:
- Directory: sitetag generate-config --config-dir /path/to/config/
- File: sitetag generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}
