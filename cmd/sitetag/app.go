// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/sitetag/internal/api"
	"github.com/autobrr/sitetag/internal/buildinfo"
	"github.com/autobrr/sitetag/internal/clientpool"
	"github.com/autobrr/sitetag/internal/config"
	"github.com/autobrr/sitetag/internal/database"
	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
	"github.com/autobrr/sitetag/internal/events"
	"github.com/autobrr/sitetag/internal/metrics"
	"github.com/autobrr/sitetag/internal/models"
	"github.com/autobrr/sitetag/internal/scheduler"
	"github.com/autobrr/sitetag/internal/services/sitetag"
	"github.com/autobrr/sitetag/internal/sites"
)

const (
	triggerCLI      = "cli"
	shutdownTimeout = 30 * time.Second
)

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("SITETAG__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("SITETAG__LOG_PATH", app.logPath)
		cfg.SetLogPath(app.logPath)
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

// core is everything a pass needs, shared by serve and run.
type core struct {
	cfg      *config.AppConfig
	db       *database.DB
	store    *models.SiteStore
	provider *sites.Provider
	pool     *clientpool.Pool
	service  *sitetag.Service
	metrics  *metrics.Manager
}

func (app *Application) buildCore(cfg *config.AppConfig, healthChecks bool) (*core, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, errors.Wrap(err, "initialize database")
	}

	snapshot := cfg.Snapshot()

	var metricsManager *metrics.Manager
	if snapshot.MetricsEnabled {
		metricsManager = metrics.NewManager()
	}

	breaker := downloader.DefaultBreakerSettings()
	breaker.OnStateChange = metricsManager.CircuitStateChanged

	opts := clientpool.Options{Breaker: breaker}
	if !healthChecks {
		opts.HealthCheckInterval = -1
	}

	store := models.NewSiteStore(db)
	provider := sites.NewProvider(store, sites.DefaultSnapshotTTL)
	pool := clientpool.New(snapshot.Downloaders, opts)

	return &core{
		cfg:      cfg,
		db:       db,
		store:    store,
		provider: provider,
		pool:     pool,
		service:  sitetag.NewService(sitetag.DefaultConfig(), cfg, pool, provider, metricsManager),
		metrics:  metricsManager,
	}, nil
}

func (c *core) close() {
	if err := c.pool.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close client pool")
	}
	c.provider.Close()
	if err := c.db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}

func (app *Application) runOnce(ctx context.Context) (sitetag.PassSummary, error) {
	cfg, err := app.loadConfig()
	if err != nil {
		return sitetag.PassSummary{}, err
	}

	c, err := app.buildCore(cfg, false)
	if err != nil {
		return sitetag.PassSummary{}, err
	}
	defer c.close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return c.service.RunPass(ctx, triggerCLI), nil
}

func (app *Application) runServer() error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", buildinfo.String()).Msg("Starting sitetag")

	c, err := app.buildCore(cfg, true)
	if err != nil {
		return err
	}
	defer c.close()

	bus, err := events.NewBus()
	if err != nil {
		return err
	}
	bus.SubscribeDownloadAdded("sitetag-download-added", c.service.HandleDownloadAdded)

	sched := scheduler.New(func(ctx context.Context, trigger string) {
		if _, err := c.service.TryRunPass(ctx, trigger); err != nil {
			log.Info().Err(err).Str("trigger", trigger).Msg("scheduled pass skipped")
		}
	})
	sched.OnceReset = func() error { return cfg.SetOnlyOnce(false) }

	tagging := cfg.Tagging()
	sched.Apply(tagging)
	sched.Start()
	if tagging.OnlyOnce {
		sched.RunOnce(scheduler.DefaultOnceDelay)
	}

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		c.pool.Reload(conf.Downloaders)
		sched.Apply(conf.Tagging)
		if conf.Tagging.OnlyOnce {
			sched.RunOnce(scheduler.DefaultOnceDelay)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := api.NewServer(&api.Dependencies{
		Config:      cfg,
		Version:     buildinfo.Version,
		BaseContext: ctx,
		DB:          c.db,
		SiteStore:   c.store,
		Directory:   c.provider,
		Runner:      c.service,
		Pool:        c.pool,
		Publisher:   bus,
	})

	var metricsServer *metrics.Server
	if c.metrics != nil {
		snapshot := cfg.Snapshot()
		metricsServer = metrics.NewServer(c.metrics, snapshot.MetricsHost, snapshot.MetricsPort)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bus.Run(gctx)
	})

	serverReady := make(chan struct{}, 1)
	g.Go(func() error {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			return errors.Wrap(metricsServer.ListenAndServe(), "metrics server")
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-serverReady:
		log.Debug().Msg("API server ready")
	case <-gctx.Done():
	}

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down", sig.String())
	case <-gctx.Done():
		runErr = context.Cause(gctx)
		log.Error().Err(runErr).Msg("got unexpected error, shutting down")
	}

	c.service.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}
	if err := bus.Close(); err != nil {
		log.Error().Err(err).Msg("got error closing event bus")
	}

	cancel()
	if err := g.Wait(); err != nil && runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}

	log.Info().Msg("sitetag stopped")
	return runErr
}

func printSummary(w io.Writer, summary sitetag.PassSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(w, "pass %s %s: scanned %d, tagged %d, unchanged %d, skipped %d, failed %d\n",
		summary.ID, summary.Result, summary.Scanned, summary.Tagged, summary.Unchanged, summary.Skipped, summary.Failed)
	for _, d := range summary.Downloaders {
		status := "ok"
		if d.Unreachable {
			status = "unreachable"
		}
		fmt.Fprintf(w, "  %-20s %-11s scanned %d, tagged %d, failed %d\n", d.Name, status, d.Scanned, d.Tagged, d.Failed)
	}
	return nil
}
