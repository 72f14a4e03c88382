package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/entitle/pkg/observability"
)

// Job is a named maintenance task. Run returns how many records it changed.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// Scheduler runs jobs on cron schedules. A job still running when its next
// tick arrives is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger

	mu   sync.Mutex
	jobs []Job
}

// NewScheduler creates a Scheduler. Each run is bounded by timeout; metrics
// may be nil.
func NewScheduler(timeout time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.Discard()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Add registers job on its schedule
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run function are required")
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.RunJob(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

// RunAll runs every registered job once, in registration order
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if _, err := s.RunJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunJob runs job once with the scheduler timeout, recording its outcome.
// A panic in the job is returned as an error.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (affected int, err error) {
	runID := uuid.NewString()
	logger := s.logger.WithFields(map[string]any{"job": job.Name, "run_id": runID})
	ctx = observability.WithLogger(ctx, logger)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if perr := observability.PanicError(recover()); perr != nil {
			err = perr
		}
		s.record(job.Name, affected, err, time.Since(start))
		if err != nil {
			logger.WithError(err).Error("job failed", "duration", time.Since(start).String())
			return
		}
		logger.Info("job completed", "affected", affected, "duration", time.Since(start).String())
	}()

	logger.Debug("job started")
	return job.Run(ctx)
}

func (s *Scheduler) record(name string, affected int, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	s.metrics.JobRunsTotal.WithLabelValues(name, status).Inc()
	s.metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err == nil {
		s.metrics.JobAffectedTotal.WithLabelValues(name).Add(float64(affected))
		s.metrics.JobLastSuccessTime.WithLabelValues(name).SetToCurrentTime()
	}
}
