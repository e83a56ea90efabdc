// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

type ScheduleMode string

const (
	ScheduleDisabled ScheduleMode = "disabled"
	ScheduleCron     ScheduleMode = "cron"
	ScheduleInterval ScheduleMode = "interval"
)

type IntervalUnit string

const (
	UnitHours   IntervalUnit = "hours"
	UnitMinutes IntervalUnit = "minutes"
)

const (
	DefaultCron     = "0 12 * * *"
	DefaultInterval = 24
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// APIKey guards the HTTP API when set.
	APIKey string `toml:"apiKey" mapstructure:"apiKey"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Tagging     TaggingConfig      `toml:"tagging" mapstructure:"tagging"`
	Downloaders []DownloaderConfig `toml:"downloaders" mapstructure:"downloaders"`
}

// TaggingConfig is the flat record that drives the tagging passes.
type TaggingConfig struct {
	Enabled      bool         `toml:"enabled" mapstructure:"enabled"`
	OnlyOnce     bool         `toml:"onlyOnce" mapstructure:"onlyOnce"`
	ScheduleMode ScheduleMode `toml:"scheduleMode" mapstructure:"scheduleMode"`
	Cron         string       `toml:"cron" mapstructure:"cron"`
	Interval     int          `toml:"interval" mapstructure:"interval"`
	IntervalUnit IntervalUnit `toml:"intervalUnit" mapstructure:"intervalUnit"`
	Downloaders  []string     `toml:"downloaders" mapstructure:"downloaders"`
	TrackerMap   string       `toml:"trackerMap" mapstructure:"trackerMap"`
	SavePathMap  string       `toml:"savePathMap" mapstructure:"savePathMap"`
}

// Mode returns the schedule mode, treating unknown values as disabled.
func (t TaggingConfig) Mode() ScheduleMode {
	switch ScheduleMode(strings.ToLower(strings.TrimSpace(string(t.ScheduleMode)))) {
	case ScheduleCron:
		return ScheduleCron
	case ScheduleInterval:
		return ScheduleInterval
	default:
		return ScheduleDisabled
	}
}

// Unit returns the interval unit, defaulting to hours.
func (t TaggingConfig) Unit() IntervalUnit {
	if IntervalUnit(strings.ToLower(strings.TrimSpace(string(t.IntervalUnit)))) == UnitMinutes {
		return UnitMinutes
	}
	return UnitHours
}

// DownloaderConfig describes one downloader the tagger may talk to.
type DownloaderConfig struct {
	Name          string `toml:"name" mapstructure:"name"`
	Type          string `toml:"type" mapstructure:"type"`
	Host          string `toml:"host" mapstructure:"host"`
	Username      string `toml:"username" mapstructure:"username"`
	Password      string `toml:"password" mapstructure:"password"`
	BasicUser     string `toml:"basicUser" mapstructure:"basicUser"`
	BasicPass     string `toml:"basicPass" mapstructure:"basicPass"`
	TLSSkipVerify bool   `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
	// Timeout in seconds for RPC calls. Zero uses the client default.
	Timeout int `toml:"timeout" mapstructure:"timeout"`
}
