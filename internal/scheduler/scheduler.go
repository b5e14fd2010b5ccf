// Package scheduler runs periodic passes on independent timers. A pass still
// running when its next tick fires is skipped for that tick, never queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Job is one periodic pass.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a set of jobs until its context is cancelled.
type Scheduler struct {
	jobs    []Job
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Scheduler. Jobs with a non-positive interval are ignored.
// A nil clock uses real time.
func New(jobs []Job, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	active := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			active = append(active, j)
		}
	}
	return &Scheduler{jobs: active, clock: clock, logger: logger, metrics: metrics}
}

// String names the scheduler for supervisors.
func (s *Scheduler) String() string { return "scheduler" }

// Serve ticks every job until ctx is cancelled, then waits for in-flight
// passes to finish. In-flight passes are not cancelled with ctx.
func (s *Scheduler) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := s.clock.NewTicker(j.Interval)
	defer ticker.Stop()

	var (
		busy     atomic.Bool
		inflight sync.WaitGroup
	)
	defer inflight.Wait()

	s.logger.Info("job scheduled", "job", j.Name, "interval", j.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !busy.CompareAndSwap(false, true) {
				s.metrics.PassesSkipped.WithLabelValues(j.Name).Inc()
				s.logger.Warn("previous pass still running, skipping tick", "job", j.Name)
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer busy.Store(false)
				s.runPass(context.WithoutCancel(ctx), j)
			}()
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.PassErrors.WithLabelValues(j.Name).Inc()
			s.logger.Error("pass panicked", "job", j.Name, "panic", r)
		}
	}()

	start := s.clock.Now()
	if err := j.Run(ctx); err != nil {
		s.metrics.PassErrors.WithLabelValues(j.Name).Inc()
		s.logger.Error("pass failed", "job", j.Name, "error", err, "duration", s.clock.Since(start))
		return
	}
	s.logger.Debug("pass finished", "job", j.Name, "duration", s.clock.Since(start))
}
