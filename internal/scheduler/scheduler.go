// Package scheduler triggers export runs on a cron schedule. Runs never
// overlap: a tick that fires while a run is still active is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tinytelemetry/lotus-export/internal/metrics"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

// ErrBusy is returned by RunOnce while another run is active.
var ErrBusy = errors.New("scheduler: a run is already in progress")

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Config configures a Scheduler. Zero values take defaults.
type Config struct {
	Schedule string // standard 5-field cron expression
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	After    func(time.Duration) <-chan time.Time
}

// Scheduler runs a Job at every fire time of a cron schedule.
type Scheduler struct {
	job      Job
	spec     string
	schedule cron.Schedule
	loc      *time.Location
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	running  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New parses cfg.Schedule. An invalid expression is a configuration error.
func New(job Job, cfg Config) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: nil job: %w", model.ErrConfig)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = model.DefaultSchedule
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse schedule %q: %w: %w", cfg.Schedule, model.ErrConfig, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}

	return &Scheduler{
		job:      job,
		spec:     cfg.Schedule,
		schedule: sched,
		loc:      cfg.Location,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		after:    cfg.After,
		done:     make(chan struct{}),
	}, nil
}

// Next returns the first fire time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Start launches the schedule loop. Runs receive a context derived from ctx
// that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("scheduler: started", "schedule", s.spec, "next", s.Next(s.now()).Format(time.RFC3339))
	s.wg.Add(1)
	go s.loop(runCtx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := s.now()
		next := s.Next(now)
		select {
		case <-s.after(next.Sub(now)):
			s.trigger(ctx, next)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, at time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.TickSkipped()
		s.logger.Warn("scheduler: previous run still active, skipping tick", "tick", at.Format(time.RFC3339))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.execute(ctx, at)
	}()
}

func (s *Scheduler) execute(ctx context.Context, at time.Time) error {
	started := s.now()
	logger := s.logger.With("tick", at.Format(time.RFC3339))
	logger.Info("scheduler: run started")

	err := s.job(ctx)
	elapsed := s.now().Sub(started).Round(time.Millisecond).String()
	if err != nil {
		logger.Error("scheduler: run failed", "elapsed", elapsed, "error", err)
		return err
	}
	logger.Info("scheduler: run finished", "elapsed", elapsed, "next", s.Next(s.now()).Format(time.RFC3339))
	return nil
}

// RunOnce runs the job immediately on the caller's goroutine. It returns
// ErrBusy if a scheduled run is active.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	return s.execute(ctx, s.now())
}

// Stop cancels any active run and waits for the loop to exit. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}
