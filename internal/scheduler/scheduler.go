// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler triggers tagging passes on a cron expression or a fixed
// interval, plus one-shot runs.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sitetag/internal/domain"
)

const (
	// MinInterval keeps fixed-interval passes from overlapping.
	MinInterval = 5 * time.Minute
	// DefaultOnceDelay is how far ahead a one-shot run is scheduled.
	DefaultOnceDelay = 3 * time.Second
)

// PassFunc runs one tagging pass.
type PassFunc func(ctx context.Context, trigger string)

type Scheduler struct {
	cron *cron.Cron
	run  PassFunc

	// OnceReset is called after a one-shot run has been scheduled so the flag
	// can be persisted as false.
	OnceReset func() error

	mu      sync.Mutex
	entryID cron.EntryID
	once    *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(run PassFunc) *Scheduler {
	logger := cronLogger{logger: log.Logger.With().Str("module", "scheduler").Logger()}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Apply replaces the recurring schedule with the one described by cfg.
func (s *Scheduler) Apply(cfg domain.TaggingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}

	if !cfg.Enabled {
		log.Info().Msg("scheduler: tagging disabled, no schedule installed")
		return
	}

	job := cron.FuncJob(func() { s.run(s.ctx, "schedule") })

	switch cfg.Mode() {
	case domain.ScheduleCron:
		spec := strings.TrimSpace(cfg.Cron)
		if spec == "" {
			spec = domain.DefaultCron
		}
		id, err := s.cron.AddJob(spec, job)
		if err != nil {
			log.Error().Err(err).Str("cron", spec).Msg("scheduler: invalid cron expression, no schedule installed")
			return
		}
		s.entryID = id
		log.Info().Str("cron", spec).Msg("scheduler: cron schedule installed")

	case domain.ScheduleInterval:
		every := Interval(cfg)
		s.entryID = s.cron.Schedule(cron.Every(every), job)
		log.Info().Dur("every", every).Msg("scheduler: interval schedule installed")

	default:
		log.Info().Str("mode", string(cfg.ScheduleMode)).Msg("scheduler: schedule disabled")
	}
}

// Interval returns the fixed interval for cfg. A non-positive value falls
// back to the default and minute intervals are clamped to MinInterval.
func Interval(cfg domain.TaggingConfig) time.Duration {
	n := cfg.Interval
	if n <= 0 {
		n = domain.DefaultInterval
	}

	if cfg.Unit() == domain.UnitMinutes {
		d := time.Duration(n) * time.Minute
		if d < MinInterval {
			log.Info().Dur("requested", d).Dur("min", MinInterval).Msg("scheduler: interval raised to the minimum")
			d = MinInterval
		}
		return d
	}
	return time.Duration(n) * time.Hour
}

// RunOnce schedules a single pass delay from now and resets the one-shot flag.
func (s *Scheduler) RunOnce(delay time.Duration) {
	if delay <= 0 {
		delay = DefaultOnceDelay
	}

	s.mu.Lock()
	if s.once != nil {
		s.once.Stop()
	}
	s.once = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("scheduler: one-shot pass panicked")
			}
		}()
		s.run(s.ctx, "once")
	})
	s.mu.Unlock()

	log.Info().Dur("delay", delay).Msg("scheduler: one-shot pass scheduled")

	if s.OnceReset != nil {
		if err := s.OnceReset(); err != nil {
			log.Error().Err(err).Msg("scheduler: could not reset the one-shot flag")
		}
	}
}

// Next returns when the recurring schedule fires next, zero if none.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()

	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.once != nil {
		s.once.Stop()
	}
	s.mu.Unlock()

	s.cancel()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
