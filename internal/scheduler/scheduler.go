// Package scheduler runs a job on a fixed cadence, used to refresh the session
// snapshot while the API is serving.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Job is invoked on every tick with the scheduled tick time.
type Job func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name     string
	Interval time.Duration
	// Align snaps ticks to multiples of Interval, e.g. the top of the hour.
	Align        bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of one job.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.Name == "" {
		opts.Name = "job"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks, invoking job at each interval until ctx is cancelled. Job errors
// are logged and do not stop the loop; a tick that overruns the next one skips
// it.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(s.now())
	for {
		if delay := next.Sub(s.now()); delay < 0 {
			skipped := int(-delay/s.opts.Interval) + 1
			s.logger.Warn().Int("skipped", skipped).Msg("ticks overran, skipping ahead")
			next = s.nextTick(s.now())
		}

		s.logger.Debug().Time("next", next).Msg("waiting for next tick")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}

		started := s.now()
		if err := job(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("job failed")
		} else {
			s.logger.Info().Time("tick", next).Dur("took", s.now().Sub(started)).Msg("job completed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.Align {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}
