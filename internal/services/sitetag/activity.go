// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sitetag

import (
	"sync"
	"time"
)

const defaultActivityLimit = 50

type Outcome string

const (
	OutcomeTagged  Outcome = "tagged"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type Source string

const (
	SourcePass Source = "pass"
	SourceHook Source = "hook"
)

// ActivityEvent records what happened to one torrent.
type ActivityEvent struct {
	PassID     string    `json:"passId,omitempty"`
	Downloader string    `json:"downloader"`
	Hash       string    `json:"hash"`
	Name       string    `json:"name,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Source     Source    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// activityLog is a fixed-size ring, oldest entries are overwritten.
type activityLog struct {
	mu     sync.Mutex
	events []ActivityEvent
	next   int
	full   bool
}

func newActivityLog(limit int) *activityLog {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return &activityLog{events: make([]ActivityEvent, limit)}
}

func (a *activityLog) add(event ActivityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.events[a.next] = event
	a.next = (a.next + 1) % len(a.events)
	if a.next == 0 {
		a.full = true
	}
}

// list returns the events oldest first.
func (a *activityLog) list() []ActivityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.full {
		return append([]ActivityEvent(nil), a.events[:a.next]...)
	}

	out := make([]ActivityEvent, 0, len(a.events))
	out = append(out, a.events[a.next:]...)
	out = append(out, a.events[:a.next]...)
	return out
}
