// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestManagerCounters(t *testing.T) {
	m := NewManager()

	m.ObservePass("completed", 2*time.Second)
	m.ObservePass("cancelled", time.Second)
	m.TorrentScanned("qb1")
	m.TorrentScanned("qb1")
	m.TagsWritten("qb1", "pass", 2)
	m.TagsWritten("qb1", "hook", 0)
	m.TorrentFailed("tr1")
	m.CircuitStateChanged("tr1", gobreaker.StateClosed, gobreaker.StateOpen)

	assert.InDelta(t, 1, testutil.ToFloat64(m.passesTotal.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.torrentsScanned.WithLabelValues("qb1")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.tagsWritten.WithLabelValues("qb1", "pass")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.tagsWritten.WithLabelValues("qb1", "hook")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.torrentErrors.WithLabelValues("tr1")), 0)
	assert.InDelta(t, float64(gobreaker.StateOpen), testutil.ToFloat64(m.circuitState.WithLabelValues("tr1")), 0)
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.ObservePass("completed", time.Second)
		m.TorrentScanned("qb1")
		m.TagsWritten("qb1", "pass", 1)
		m.TorrentFailed("qb1")
		m.CircuitStateChanged("qb1", gobreaker.StateClosed, gobreaker.StateOpen)
	})
}
