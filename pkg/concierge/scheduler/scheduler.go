// Package scheduler fires recurring digest jobs on cron schedules. Each
// job renders a summary through its handler and posts the result to a
// configured chat.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// minFireInterval is the minimum time between consecutive runs of the same
// job. Guards against cron firing twice on the same second boundary.
const minFireInterval = 2 * time.Second

// jobTimeout bounds a single job execution.
const jobTimeout = 2 * time.Minute

// Job is a recurring digest posting.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Schedule is the cron expression ("0 9 * * 1-5") or a descriptor
	// like "@daily" or "@every 6h".
	Schedule string `json:"schedule"`

	// Channel and ChatID name where the digest is posted.
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`

	// Enabled jobs are registered with cron on start.
	Enabled bool `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	RunCount  int        `json:"run_count"`
}

// clone returns a copy safe to hand to storage and handlers outside the
// scheduler lock.
func (j *Job) clone() *Job {
	c := *j
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

// JobHandler renders the content a firing job should post.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// Sender delivers a rendered digest to its chat.
type Sender func(ctx context.Context, channel, chatID, text string) error

// JobStorage persists jobs across restarts.
type JobStorage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// Scheduler manages cron-driven digest jobs.
type Scheduler struct {
	jobs    map[string]*Job
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	// running tracks in-flight jobs so a slow run cannot overlap the next
	// fire of the same job.
	running map[string]bool

	storage JobStorage
	handler JobHandler
	sender  Sender
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Storage may be nil for in-memory-only jobs.
func New(storage JobStorage, handler JobHandler, sender Sender, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		cronIDs: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		storage: storage,
		handler: handler,
		sender:  sender,
		logger:  logger.With("component", "scheduler"),
	}
}

// Add registers a new job. If the scheduler is running and the job is
// enabled, it starts firing immediately.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("scheduler: job ID is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("scheduler: job schedule is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.ID)
	}

	job.CreatedAt = time.Now()

	if s.cron != nil && job.Enabled {
		if err := s.registerLocked(job); err != nil {
			return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
		}
	}

	s.jobs[job.ID] = job
	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("persisting job failed", "id", job.ID, "error", err)
		}
	}

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule, "channel", job.Channel)
	return nil
}

// Remove unregisters and deletes a job.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("scheduler: job %q not found", jobID)
	}

	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	if s.storage != nil {
		if err := s.storage.Delete(jobID); err != nil {
			s.logger.Error("removing job from storage failed", "id", jobID, "error", err)
		}
	}

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns all registered jobs.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// Start loads persisted jobs and begins firing enabled ones.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			s.logger.Error("loading jobs failed", "error", err)
		} else {
			for _, job := range jobs {
				s.jobs[job.ID] = job
				if !job.Enabled {
					continue
				}
				if err := s.registerLocked(job); err != nil {
					s.logger.Warn("skipping job with invalid schedule",
						"id", job.ID, "schedule", job.Schedule, "error", err)
				}
			}
		}
	}

	s.cron.Start()
	jobCount := len(s.jobs)
	entries := len(s.cron.Entries())
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", jobCount, "cron_entries", entries)
	return nil
}

// Stop halts firing and waits (bounded) for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out waiting for jobs")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// registerLocked adds a job to cron. Caller holds s.mu.
func (s *Scheduler) registerLocked(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.fire(job.ID)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// fire runs one job execution with the concurrency and spin-loop guards.
func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if s.running[jobID] {
		s.mu.Unlock()
		s.logger.Warn("skipping fire, previous run still active", "id", jobID)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minFireInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping fire, ran too recently", "id", jobID)
		return
	}
	s.running[jobID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	// Snapshot under the lock: storage marshals outside it, and another
	// fire may mutate the shared record in the meantime.
	snap := job.clone()
	s.mu.Unlock()

	// Persist LastRunAt before running so a crash mid-execution does not
	// cause an immediate re-fire on restart.
	if s.storage != nil {
		if err := s.storage.Save(snap); err != nil {
			s.logger.Error("persisting run timestamp failed", "id", jobID, "error", err)
		}
	}

	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.recordError(jobID, fmt.Sprintf("panic: %v", r))
			s.logger.Error("scheduled job panicked", "id", jobID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	text, err := s.handler(ctx, snap)
	if err != nil {
		s.recordError(jobID, err.Error())
		s.logger.Error("job handler failed", "id", jobID, "error", err)
		return
	}

	if err := s.sender(ctx, snap.Channel, snap.ChatID, text); err != nil {
		s.recordError(jobID, err.Error())
		s.logger.Error("posting digest failed",
			"id", jobID, "channel", snap.Channel, "chat", snap.ChatID, "error", err)
		return
	}

	s.recordError(jobID, "")
	s.logger.Info("digest posted", "id", jobID, "channel", snap.Channel, "chat", snap.ChatID)
}

// recordError updates LastError and persists the job.
func (s *Scheduler) recordError(jobID, msg string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var snap *Job
	if ok {
		job.LastError = msg
		snap = job.clone()
	}
	s.mu.Unlock()

	if snap != nil && s.storage != nil {
		if err := s.storage.Save(snap); err != nil {
			s.logger.Error("persisting job state failed", "id", jobID, "error", err)
		}
	}
}
