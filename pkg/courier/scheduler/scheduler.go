// Package scheduler implements cron-based reminders. Jobs run a prompt
// through the assistant's AI path and deliver the result to a channel
// target. Uses robfig/cron for schedule parsing and SQLite for
// persistence across restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/courierbot/courier/pkg/courier/events"
)

// Job is one scheduled reminder.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Schedule is a cron expression or descriptor (@daily, @every 5m).
	Schedule string `json:"schedule"`

	// Prompt is the text routed through the AI path when the job fires.
	Prompt string `json:"prompt"`

	// Kind is the delivery channel kind; empty means log-only.
	Kind string `json:"kind,omitempty"`

	// Target is the delivery chat/group id.
	Target string `json:"target,omitempty"`

	// Enabled indicates whether the job is armed.
	Enabled bool `json:"enabled"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LastRunAt is the last execution timestamp.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastError holds the error from the last run, if any.
	LastError string `json:"last_error,omitempty"`

	// RunCount tracks completed executions.
	RunCount int `json:"run_count"`
}

// Runner executes a job's prompt and returns the reply text.
type Runner func(ctx context.Context, job Job) (string, error)

// Deliverer sends a reply to a channel target.
type Deliverer func(ctx context.Context, kind, target, content string) error

// Scheduler manages cron entries for persisted jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     map[string]*Job
	entryIDs map[string]cron.EntryID
	storage  *Storage
	runner   Runner
	deliver  Deliverer
	bus      *events.Bus
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a scheduler. storage may be nil (jobs are then in-memory
// only).
func New(storage *Storage, runner Runner, deliver Deliverer, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		jobs:     make(map[string]*Job),
		entryIDs: make(map[string]cron.EntryID),
		storage:  storage,
		runner:   runner,
		deliver:  deliver,
		bus:      bus,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start loads persisted jobs, arms the enabled ones, and begins firing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			return fmt.Errorf("loading jobs: %w", err)
		}
		for _, job := range jobs {
			if err := s.arm(job); err != nil {
				s.logger.Warn("failed to arm persisted job", "job", job.ID, "error", err)
			}
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts firing. In-flight runs finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Add validates, persists, and arms a job.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := s.arm(job); err != nil {
		return err
	}
	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			return fmt.Errorf("persisting job %q: %w", job.ID, err)
		}
	}
	s.logger.Info("job added", "job", job.ID, "schedule", job.Schedule)
	return nil
}

// arm registers the cron entry, replacing any existing entry for the id.
func (s *Scheduler) arm(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryIDs[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, job.ID)
	}
	s.jobs[job.ID] = job

	if !job.Enabled {
		return nil
	}
	id := job.ID
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	s.entryIDs[job.ID] = entryID
	return nil
}

// Remove deletes a job. Removing an unknown id is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	if entryID, ok := s.entryIDs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, id)
	}
	_, existed := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if existed && s.storage != nil {
		if err := s.storage.Delete(id); err != nil {
			s.logger.Warn("failed to delete persisted job", "job", id, "error", err)
		}
	}
}

// List returns a snapshot of all jobs.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// fire runs one job. Failures are recorded on the job and logged; they
// never crash the scheduler.
func (s *Scheduler) fire(id string) {
	s.mu.RLock()
	jobPtr, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return
	}
	job := *jobPtr
	s.mu.RUnlock()

	s.logger.Info("job fired", "job", id)
	reply, err := s.runner(s.ctx, job)

	if err == nil && job.Kind != "" && job.Target != "" && s.deliver != nil {
		err = s.deliver(s.ctx, job.Kind, job.Target, reply)
	}

	now := time.Now()
	s.mu.Lock()
	if jobPtr, ok := s.jobs[id]; ok {
		jobPtr.LastRunAt = &now
		jobPtr.RunCount++
		if err != nil {
			jobPtr.LastError = err.Error()
		} else {
			jobPtr.LastError = ""
		}
		job = *jobPtr
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job run failed", "job", id, "error", err)
	}
	if s.storage != nil {
		if serr := s.storage.Save(&job); serr != nil {
			s.logger.Warn("failed to persist job state", "job", id, "error", serr)
		}
	}
	if s.bus != nil {
		s.bus.Emit(events.SchedulerFired, map[string]any{
			"job":   id,
			"error": job.LastError,
		})
	}
}
