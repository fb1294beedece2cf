// Package scheduler runs recurring maintenance jobs on cron schedules: the
// sandbox reaper sweep, and any other periodic upkeep a service registers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Job is one recurring maintenance task.
type Job struct {
	ID       string                          // unique identifier
	Name     string                          // human-readable name (optional)
	CronExpr string                          // cron expression or descriptor (e.g. "@every 30m")
	Run      func(ctx context.Context) error // the work; errors are logged, never fatal
}

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrNilRun       = errors.New("scheduler: job run func must not be nil")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
)

// jobEntry tracks a registered job and its cron entry ID.
type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler manages cron-based maintenance jobs. A firing job runs on the
// cron goroutine; its error is logged and the schedule continues.
type Scheduler struct {
	engine CronEngine
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[string]jobEntry
}

// NewScheduler creates a new Scheduler. engine must not be nil.
func NewScheduler(engine CronEngine, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	s := &Scheduler{
		engine: engine,
		jobs:   make(map[string]jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the Scheduler's logger, falling back to the default slog logger.
func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddJob registers a new maintenance job. Returns an error if the job fails
// validation or if a job with the same ID already exists.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.CronExpr == "" {
		return ErrEmptyCron
	}
	if job.Run == nil {
		return ErrNilRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	// Capture job for the closure.
	capturedJob := job
	entryID, err := s.engine.AddFunc(job.CronExpr, func() {
		s.log().Info("maintenance job fired",
			"job_id", capturedJob.ID,
			"job_name", capturedJob.Name,
			"cron_expr", capturedJob.CronExpr,
		)
		if runErr := capturedJob.Run(context.Background()); runErr != nil {
			s.log().Warn("maintenance job failed",
				"job_id", capturedJob.ID,
				"error", runErr,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to register cron job %q: %w", job.ID, err)
	}

	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("maintenance job registered",
		"job_id", job.ID,
		"job_name", job.Name,
		"cron_expr", job.CronExpr,
	)
	return nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop halts the cron scheduler.
func (s *Scheduler) Stop() {
	s.engine.Stop()
}

// RemoveJob unregisters a maintenance job by ID. Returns an error if the
// job ID is empty or the job does not exist.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("scheduler: job %q not found", id)
	}

	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("maintenance job removed", "job_id", id)
	return nil
}

// ListJobs returns a copy of all registered jobs. The returned slice is
// never nil (empty slice when no jobs are registered).
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// GetJob returns the job with the given ID, or false if not found.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}
