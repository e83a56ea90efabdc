// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// OnStateChange is optional.
	OnStateChange func(backend string, from, to gobreaker.State)
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         time.Minute,
	}
}

// Breaker guards a Backend with a circuit breaker. While the circuit is open
// every call fails fast with ErrBackendUnreachable.
type Breaker struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker[any]
}

func WithBreaker(backend Backend, settings BreakerSettings) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}

	threshold := settings.ConsecutiveFailures
	onChange := settings.OnStateChange

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        backend.Name(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Missing torrents and cancelled calls say nothing about the downloader's health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrTorrentNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("downloader", name).Str("from", from.String()).Str("to", to.String()).Msg("downloader: circuit state changed")
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})

	return &Breaker{backend: backend, cb: cb}
}

func (b *Breaker) Name() string { return b.backend.Name() }
func (b *Breaker) Kind() Kind   { return b.backend.Kind() }

// Unwrap returns the guarded backend.
func (b *Breaker) Unwrap() Backend { return b.backend }

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) ListTorrents(ctx context.Context) ([]Torrent, error) {
	res, err := b.execute(func() (any, error) {
		return b.backend.ListTorrents(ctx)
	})
	if err != nil {
		return nil, err
	}
	torrents, _ := res.([]Torrent)
	return torrents, nil
}

func (b *Breaker) GetTorrent(ctx context.Context, hash string) (Torrent, error) {
	res, err := b.execute(func() (any, error) {
		return b.backend.GetTorrent(ctx, hash)
	})
	if err != nil {
		return Torrent{}, err
	}
	torrent, _ := res.(Torrent)
	return torrent, nil
}

func (b *Breaker) WriteTags(ctx context.Context, hash string, tags []string, current *Torrent) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.backend.WriteTags(ctx, hash, tags, current)
	})
	return err
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrapf(ErrBackendUnreachable, "%s: %v", b.backend.Name(), err)
	}
	return res, err
}
