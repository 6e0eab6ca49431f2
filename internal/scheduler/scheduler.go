// Package scheduler runs the periodic maintenance jobs: queue dispatch,
// sweeps, score recompute and the analytics snapshot.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_scheduler_runs_total",
		Help: "Scheduled job runs by outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "library_scheduler_run_seconds",
		Help:    "Scheduled job run time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// JobFunc does one run of a job. A returned error is logged and the job
// stays scheduled.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []job
	running bool
	logger  *zap.SugaredLogger

	Clock func() time.Time
}

func New(logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{logger: logger, Clock: time.Now}
}

// Add registers a job. Jobs added after Run has started are ignored.
func (s *Scheduler) Add(name string, schedule Schedule, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, fn: fn})
}

// Run starts one goroutine per job and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	s.logger.Infow("scheduler starting", "jobs", len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Infow("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	for {
		now := s.Clock()
		next := j.schedule.Next(now)
		s.logger.Debugw("job scheduled", "job", j.name, "schedule", j.schedule.String(), "next", next)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.RunOnce(ctx, j.name, j.fn)
	}
}

// RunOnce runs fn with panic recovery, logging and metrics.
func (s *Scheduler) RunOnce(ctx context.Context, name string, fn JobFunc) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			jobRuns.WithLabelValues(name, "error").Inc()
			s.logger.Errorw("job failed", "job", name, "error", err)
			return
		}
		jobRuns.WithLabelValues(name, "ok").Inc()
		s.logger.Debugw("job finished", "job", name, "took", time.Since(start))
	}()
	return fn(ctx)
}
