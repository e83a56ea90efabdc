// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/sitetag/internal/domain"
)

var envPrefix = "SITETAG__"

const (
	appName      = "sitetag"
	databaseName = "sitetag.db"
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	mu sync.RWMutex

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("apiKey", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9080)

	c.viper.SetDefault("tagging.enabled", false)
	c.viper.SetDefault("tagging.onlyOnce", false)
	c.viper.SetDefault("tagging.scheduleMode", string(domain.ScheduleCron))
	c.viper.SetDefault("tagging.cron", domain.DefaultCron)
	c.viper.SetDefault("tagging.interval", domain.DefaultInterval)
	c.viper.SetDefault("tagging.intervalUnit", string(domain.UnitHours))
	c.viper.SetDefault("tagging.downloaders", []string{})
	c.viper.SetDefault("tagging.trackerMap", "")
	c.viper.SetDefault("tagging.savePathMap", "")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("failed to read config: %w", err)
			}
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

// isNotFound covers both the search-path and explicit-file flavours of a missing config.
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

func (c *AppConfig) loadFromEnv() {
	// Explicit bindings only; AutomaticEnv picks up unrelated orchestrator variables.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.bindOrReadFromFile("apiKey", envPrefix+"API_KEY")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")

	c.viper.BindEnv("tagging.enabled", envPrefix+"TAGGING_ENABLED")
	c.viper.BindEnv("tagging.scheduleMode", envPrefix+"TAGGING_SCHEDULE_MODE")
	c.viper.BindEnv("tagging.cron", envPrefix+"TAGGING_CRON")
	c.viper.BindEnv("tagging.interval", envPrefix+"TAGGING_INTERVAL")
	c.viper.BindEnv("tagging.intervalUnit", envPrefix+"TAGGING_INTERVAL_UNIT")
	c.viper.BindEnv("tagging.downloaders", envPrefix+"TAGGING_DOWNLOADERS")
	c.bindOrReadFromFile("tagging.trackerMap", envPrefix+"TAGGING_TRACKER_MAP")
	c.bindOrReadFromFile("tagging.savePathMap", envPrefix+"TAGGING_SAVE_PATH_MAP")
}

// bindOrReadFromFile sets the key from the file named by envVar+"_FILE" when present,
// otherwise binds envVar.
func (c *AppConfig) bindOrReadFromFile(key string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Error().Err(err).Str("path", filePath).Msgf("Could not read %s_FILE", envVar)
			return
		}
		c.viper.Set(key, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(key, envVar)
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.mu.Lock()
		*c.Config = *next
		c.mu.Unlock()

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.mu.Lock()
	c.Config.Version = c.version
	c.mu.Unlock()

	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Snapshot()
	for _, listener := range listeners {
		listener(&copied)
	}
}

// Snapshot returns a copy of the current configuration.
func (c *AppConfig) Snapshot() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := *c.Config
	copied.Tagging.Downloaders = append([]string(nil), c.Config.Tagging.Downloaders...)
	copied.Downloaders = append([]domain.DownloaderConfig(nil), c.Config.Downloaders...)
	return copied
}

// APIKey returns the configured API key, empty when the API is open.
func (c *AppConfig) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.APIKey
}

// Tagging returns the current tagging record.
func (c *AppConfig) Tagging() domain.TaggingConfig {
	return c.Snapshot().Tagging
}

// SetOnlyOnce updates the one-shot flag and persists it to the config file.
// Only the onlyOnce line is rewritten.
func (c *AppConfig) SetOnlyOnce(value bool) error {
	c.mu.Lock()
	c.Config.Tagging.OnlyOnce = value
	c.mu.Unlock()

	c.viper.Set("tagging.onlyOnce", value)

	if c.viper.ConfigFileUsed() == "" {
		return nil
	}

	if err := rewriteConfigKey(c.viper.ConfigFileUsed(), "tagging", "onlyOnce", strconv.FormatBool(value)); err != nil {
		return errors.Wrap(err, "persist onlyOnce")
	}

	return nil
}

// rewriteConfigKey sets one key inside a TOML section, leaving every other
// line of the file untouched. The key is added below the section header
// when missing, and the section is appended when absent.
func rewriteConfigKey(path, section, key, value string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")
	assignment := key + " = " + value
	current := ""
	header := -1
	done := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			name, _, _ := strings.Cut(trimmed, "#")
			current = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "[]")))
			if current == section && header < 0 {
				header = i
			}
			continue
		}
		if current != section || strings.HasPrefix(trimmed, "#") {
			continue
		}
		name, rest, found := strings.Cut(trimmed, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(name), key) {
			continue
		}
		updated := line[:len(line)-len(strings.TrimLeft(line, " \t"))] + assignment
		if idx := strings.Index(rest, "#"); idx >= 0 {
			updated += " " + strings.TrimSpace(rest[idx:])
		}
		if strings.HasSuffix(line, "\r") {
			updated += "\r"
		}
		lines[i] = updated
		done = true
		break
	}

	switch {
	case done:
	case header >= 0:
		lines = slices.Insert(lines, header+1, assignment)
	default:
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		lines = append(lines, "", "["+section+"]", assignment, "")
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), info.Mode().Perm())
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /sitetag/ to serve in subdirectory.
#baseUrl = "/sitetag/"

# Log file path
# If not defined, logs to stdout
#logPath = "log/sitetag.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (sitetag.db) will be created inside this directory
#dataDir = "/var/db/sitetag"

# API key
# When set, every /api request must send it in the X-API-Key header or the apikey query parameter.
#apiKey = ""

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus Metrics
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9080

[tagging]
# Run tagging passes
enabled = false

# Run a single pass a few seconds after start, then reset this flag
onlyOnce = false

# Options: "disabled", "cron", "interval"
scheduleMode = "{{ .scheduleMode }}"

# Cron expression used when scheduleMode = "cron"
cron = "{{ .cron }}"

# Used when scheduleMode = "interval". Minutes are clamped to at least 5.
interval = {{ .interval }}
# Options: "hours", "minutes"
intervalUnit = "{{ .intervalUnit }}"

# Names of the [[downloaders]] entries to tag
downloaders = []

# One "key:value" per line. The first key found inside a tracker URL maps it to the value's site.
trackerMap = """
"""

# One "key:value" per line. Every key found inside a save path adds the value as a tag.
savePathMap = """
"""

# Downloaders
# type is "qbittorrent" or "transmission"
#[[downloaders]]
#name = "qb1"
#type = "qbittorrent"
#host = "http://localhost:8080"
#username = "admin"
#password = "adminadmin"
#
#[[downloaders]]
#name = "tr1"
#type = "transmission"
#host = "http://localhost:9091/transmission/rpc"
#username = ""
#password = ""
`

	data := map[string]any{
		"host":          c.viper.GetString("host"),
		"port":          c.viper.GetInt("port"),
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
		"scheduleMode":  c.viper.GetString("tagging.scheduleMode"),
		"cron":          c.viper.GetString("tagging.cron"),
		"interval":      c.viper.GetInt("tagging.interval"),
		"intervalUnit":  c.viper.GetString("tagging.intervalUnit"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Containers mount /config directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	c.mu.RLock()
	level := c.Config.LogLevel
	logPath := c.Config.LogPath
	maxSize := c.Config.LogMaxSize
	maxBackups := c.Config.LogMaxBackups
	c.mu.RUnlock()

	setLogLevel(level)

	writer := baseLogWriter(c.version)

	if logPath != "" {
		multiWriter, err := setupLogFile(logPath, writer, maxSize, maxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// SetLogPath overrides the log file path (used by CLI flags)
func (c *AppConfig) SetLogPath(path string) {
	c.mu.Lock()
	c.Config.LogPath = path
	c.mu.Unlock()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
