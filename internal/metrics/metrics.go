// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

const namespace = "sitetag"

// Manager owns a private registry so tests can create as many as they like.
type Manager struct {
	registry *prometheus.Registry

	passesTotal     *prometheus.CounterVec
	passDuration    prometheus.Histogram
	torrentsScanned *prometheus.CounterVec
	tagsWritten     *prometheus.CounterVec
	torrentErrors   *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Manager{
		registry: registry,
		passesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Tagging passes by result (completed, cancelled, skipped)",
		}, []string{"result"}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a tagging pass",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		torrentsScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrents_scanned_total",
			Help:      "Torrents evaluated per downloader",
		}, []string{"downloader"}),
		tagsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tags_written_total",
			Help:      "Tags written per downloader and trigger (pass, hook)",
		}, []string{"downloader", "source"}),
		torrentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrent_errors_total",
			Help:      "Torrents that failed to process per downloader",
		}, []string{"downloader"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloader_circuit_state",
			Help:      "Circuit breaker state per downloader (0 closed, 1 half-open, 2 open)",
		}, []string{"downloader"}),
	}
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) ObservePass(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(result).Inc()
	m.passDuration.Observe(took.Seconds())
}

func (m *Manager) TorrentScanned(downloader string) {
	if m == nil {
		return
	}
	m.torrentsScanned.WithLabelValues(downloader).Inc()
}

func (m *Manager) TagsWritten(downloader, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tagsWritten.WithLabelValues(downloader, source).Add(float64(n))
}

func (m *Manager) TorrentFailed(downloader string) {
	if m == nil {
		return
	}
	m.torrentErrors.WithLabelValues(downloader).Inc()
}

// CircuitStateChanged matches downloader.BreakerSettings.OnStateChange.
func (m *Manager) CircuitStateChanged(downloader string, _, to gobreaker.State) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(downloader).Set(float64(to))
}
