// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clientpool keeps one live connection per configured downloader.
package clientpool

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/domain"
	"github.com/autobrr/sitetag/internal/downloader"
	"github.com/autobrr/sitetag/internal/qbittorrent"
	"github.com/autobrr/sitetag/internal/transmission"
)

var (
	ErrClientNotFound = errors.New("downloader not configured")
	ErrPoolClosed     = errors.New("client pool is closed")
	ErrInBackoff      = errors.New("downloader is in backoff period")
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 10 * time.Second

	initialBackoff = 10 * time.Second
	maxBackoff     = 1 * time.Minute

	connectAttempts = 3
	connectDelay    = 500 * time.Millisecond
)

// Factory connects to one downloader.
type Factory func(ctx context.Context, cfg domain.DownloaderConfig) (downloader.Backend, error)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DefaultFactory picks the adapter by the configured type.
func DefaultFactory(ctx context.Context, cfg domain.DownloaderConfig) (downloader.Backend, error) {
	kind, err := downloader.ParseKind(cfg.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "downloader %s", cfg.Name)
	}

	switch kind {
	case downloader.KindQbittorrent:
		return qbittorrent.NewClient(ctx, cfg)
	case downloader.KindTransmission:
		return transmission.NewClient(ctx, cfg)
	default:
		return nil, errors.Wrapf(downloader.ErrUnsupportedKind, "downloader %s", cfg.Name)
	}
}

type Options struct {
	Factory Factory
	Breaker downloader.BreakerSettings
	// HealthCheckInterval of zero uses the default, negative disables the loop.
	HealthCheckInterval time.Duration
}

type failureInfo struct {
	nextRetry time.Time
	attempts  int
	lastError error
}

// Status is the pool's view of one configured downloader.
type Status struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Host      string     `json:"host"`
	Connected bool       `json:"connected"`
	Healthy   bool       `json:"healthy"`
	Circuit   string     `json:"circuit,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	NextRetry *time.Time `json:"nextRetry,omitempty"`
}

type Pool struct {
	factory      Factory
	breaker      downloader.BreakerSettings
	connectDelay time.Duration
	configs  map[string]domain.DownloaderConfig
	order    []string
	clients  map[string]*downloader.Breaker
	failures map[string]*failureInfo

	mu            sync.RWMutex
	creationMu    sync.Mutex
	creationLocks map[string]*sync.Mutex
	closed        bool
	stopHealth    chan struct{}
	healthWG      sync.WaitGroup
}

func New(configs []domain.DownloaderConfig, opts Options) *Pool {
	if opts.Factory == nil {
		opts.Factory = DefaultFactory
	}

	p := &Pool{
		factory:       opts.Factory,
		breaker:       opts.Breaker,
		connectDelay:  connectDelay,
		clients:       make(map[string]*downloader.Breaker),
		failures:      make(map[string]*failureInfo),
		creationLocks: make(map[string]*sync.Mutex),
		stopHealth:    make(chan struct{}),
	}
	p.setConfigs(configs)

	interval := opts.HealthCheckInterval
	if interval == 0 {
		interval = healthCheckInterval
	}
	if interval > 0 {
		p.healthWG.Add(1)
		go p.healthCheckLoop(interval)
	}

	return p
}

func (p *Pool) setConfigs(configs []domain.DownloaderConfig) {
	p.configs = make(map[string]domain.DownloaderConfig, len(configs))
	p.order = p.order[:0]
	for _, cfg := range configs {
		if cfg.Name == "" {
			log.Warn().Str("host", cfg.Host).Msg("Ignoring downloader without a name")
			continue
		}
		if _, dup := p.configs[cfg.Name]; dup {
			log.Warn().Str("downloader", cfg.Name).Msg("Ignoring duplicate downloader name")
			continue
		}
		p.configs[cfg.Name] = cfg
		p.order = append(p.order, cfg.Name)
	}
}

// Names returns the configured downloaders in config order. A non-empty
// selection narrows the result to the named downloaders, in selection order;
// unknown names are logged and dropped.
func (p *Pool) Names(selection []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(selection) == 0 {
		return slices.Clone(p.order)
	}

	names := make([]string, 0, len(selection))
	for _, name := range selection {
		if _, ok := p.configs[name]; !ok {
			log.Warn().Str("downloader", name).Msg("Selected downloader is not configured")
			continue
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// Get returns a connected backend, connecting on first use.
func (p *Pool) Get(ctx context.Context, name string) (downloader.Backend, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	client, exists := p.clients[name]
	_, configured := p.configs[name]
	p.mu.RUnlock()

	if exists {
		return client, nil
	}
	if !configured {
		return nil, errors.Wrapf(ErrClientNotFound, "%q", name)
	}

	return p.createClient(ctx, name)
}

func (p *Pool) getLock(name string) *sync.Mutex {
	p.creationMu.Lock()
	defer p.creationMu.Unlock()

	if lock, exists := p.creationLocks[name]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	p.creationLocks[name] = lock
	return lock
}

func (p *Pool) createClient(ctx context.Context, name string) (downloader.Backend, error) {
	lock := p.getLock(name)
	lock.Lock()
	defer lock.Unlock()

	p.mu.RLock()
	if client, exists := p.clients[name]; exists {
		p.mu.RUnlock()
		return client, nil
	}
	cfg, configured := p.configs[name]
	inBackoff := p.isInBackoffLocked(name)
	p.mu.RUnlock()

	if !configured {
		return nil, errors.Wrapf(ErrClientNotFound, "%q", name)
	}
	if inBackoff {
		return nil, errors.Wrapf(downloader.ErrBackendUnreachable, "%s: %v", name, ErrInBackoff)
	}

	var backend downloader.Backend
	err := retry.Do(
		func() error {
			var err error
			backend, err = p.factory(ctx, cfg)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(p.connectDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, downloader.ErrUnsupportedKind)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("downloader", name).Uint("attempt", n+1).Msg("Retrying downloader connection")
		}),
	)
	if err != nil {
		p.trackFailure(name, err)
		if errors.Is(err, downloader.ErrBackendUnreachable) || errors.Is(err, downloader.ErrUnsupportedKind) {
			return nil, err
		}
		return nil, errors.Wrapf(downloader.ErrBackendUnreachable, "%s: %v", name, err)
	}

	client := downloader.WithBreaker(backend, p.breaker)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.clients[name] = client
	delete(p.failures, name)
	p.mu.Unlock()

	log.Info().Str("downloader", name).Str("type", string(backend.Kind())).Msg("Connected to downloader")
	return client, nil
}

// Reload swaps in a new downloader list. Connections whose config changed or
// disappeared are dropped and reconnect lazily.
func (p *Pool) Reload(configs []domain.DownloaderConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.configs
	p.setConfigs(configs)

	for name := range p.clients {
		cfg, ok := p.configs[name]
		if !ok || cfg != previous[name] {
			delete(p.clients, name)
			delete(p.failures, name)
			log.Info().Str("downloader", name).Msg("Dropped downloader connection after config change")
		}
	}
}

// Remove drops the connection to name, if any.
func (p *Pool) Remove(name string) {
	lock := p.getLock(name)
	lock.Lock()

	p.mu.Lock()
	delete(p.clients, name)
	delete(p.failures, name)
	p.mu.Unlock()

	lock.Unlock()

	p.creationMu.Lock()
	delete(p.creationLocks, name)
	p.creationMu.Unlock()
}

// Statuses reports every configured downloader.
func (p *Pool) Statuses() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]Status, 0, len(p.order))
	for _, name := range p.order {
		cfg := p.configs[name]
		status := Status{Name: name, Type: cfg.Type, Host: cfg.Host}

		if client, ok := p.clients[name]; ok {
			status.Connected = true
			status.Circuit = client.State().String()
			status.Healthy = true
			if hc, ok := client.Unwrap().(interface{ IsHealthy() bool }); ok {
				status.Healthy = hc.IsHealthy()
			}
		}
		if info, ok := p.failures[name]; ok {
			if info.lastError != nil {
				status.LastError = info.lastError.Error()
			}
			next := info.nextRetry
			status.NextRetry = &next
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (p *Pool) healthCheckLoop(interval time.Duration) {
	defer p.healthWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthChecks()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *Pool) performHealthChecks() {
	p.mu.RLock()
	clients := make(map[string]*downloader.Breaker, len(p.clients))
	for name, client := range p.clients {
		clients[name] = client
	}
	p.mu.RUnlock()

	for name, client := range clients {
		hc, ok := client.Unwrap().(healthChecker)
		if !ok || p.isInBackoff(name) {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("downloader", name).Msg("Health check failed")
			p.trackFailure(name, err)
			continue
		}
		p.resetFailureTracking(name)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopHealth)
	p.clients = make(map[string]*downloader.Breaker)
	p.failures = make(map[string]*failureInfo)
	p.mu.Unlock()

	p.healthWG.Wait()

	log.Info().Msg("Client pool closed")
	return nil
}

func (p *Pool) isInBackoff(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isInBackoffLocked(name)
}

func (p *Pool) isInBackoffLocked(name string) bool {
	info, exists := p.failures[name]
	if !exists {
		return false
	}
	return time.Now().Before(info.nextRetry)
}

func (p *Pool) trackFailure(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.failures[name]
	if !exists {
		info = &failureInfo{}
		p.failures[name] = info
	}

	info.attempts++
	info.lastError = err

	backoff := calculateBackoff(info.attempts, initialBackoff, maxBackoff)
	info.nextRetry = time.Now().Add(backoff)

	log.Debug().Str("downloader", name).Int("attempts", info.attempts).Dur("backoffDuration", backoff).Msg("Connection failure, applying backoff")
}

func (p *Pool) resetFailureTracking(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.failures[name]; exists {
		delete(p.failures, name)
		log.Debug().Str("downloader", name).Msg("Reset failure tracking after successful health check")
	}
}

// calculateBackoff doubles from initial up to maxDuration.
func calculateBackoff(attempts int, initial, maxDuration time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxDuration
	}
	return min(time.Duration(1<<(attempts-1))*initial, maxDuration)
}
