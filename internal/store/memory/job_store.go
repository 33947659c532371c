// Package memory provides an in-memory job store for development and testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contentloop/publishd/internal/pipeline"
)

// ErrJobNotFound is returned when a job id has no record (or was evicted).
var ErrJobNotFound = errors.New("job not found")

// Config bounds how many terminal jobs stay queryable before eviction.
type Config struct {
	RetainCompleted int
	RetainFailed    int
}

// JobStore keeps job records in process memory. Terminal jobs are retained
// up to the configured caps, oldest evicted first, which bounds memory
// without an external job-history store.
type JobStore struct {
	mu        sync.RWMutex
	cfg       Config
	jobs      map[string]pipeline.PublishJob
	completed []string
	failed    []string
}

// NewJobStore constructs a JobStore.
func NewJobStore(cfg Config) *JobStore {
	if cfg.RetainCompleted <= 0 {
		cfg.RetainCompleted = 100
	}
	if cfg.RetainFailed <= 0 {
		cfg.RetainFailed = 50
	}
	return &JobStore{
		cfg:  cfg,
		jobs: make(map[string]pipeline.PublishJob),
	}
}

// CreateJob stores a new job in queued state.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.PublishJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Status = pipeline.JobStatusQueued
	s.jobs[job.ID] = job
	return nil
}

// ClaimJob transitions a queued job to active. Claiming anything else fails,
// which keeps a job from ever running on two workers at once.
func (s *JobStore) ClaimJob(_ context.Context, jobID string) (pipeline.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.PublishJob{}, ErrJobNotFound
	}
	if job.Status != pipeline.JobStatusQueued {
		return pipeline.PublishJob{}, fmt.Errorf("job %s is %s, not claimable", jobID, job.Status)
	}
	now := time.Now().UTC()
	job.Status = pipeline.JobStatusActive
	job.Started = &now
	s.jobs[jobID] = job
	return job, nil
}

// CompleteJob records a successful terminal outcome.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, attempts int, url string) error {
	return s.finish(jobID, attempts, pipeline.PublishResult{Success: true, URL: url})
}

// FailJob records a failed terminal outcome with the last error verbatim.
func (s *JobStore) FailJob(_ context.Context, jobID string, attempts int, lastError string) error {
	return s.finish(jobID, attempts, pipeline.PublishResult{Success: false, Error: lastError})
}

func (s *JobStore) finish(jobID string, attempts int, result pipeline.PublishResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().UTC()
	job.Attempts = attempts
	job.Result = &result
	job.Finished = &now
	if result.Success {
		job.Status = pipeline.JobStatusCompleted
		s.jobs[jobID] = job
		s.completed = s.retain(append(s.completed, jobID), s.cfg.RetainCompleted)
	} else {
		job.Status = pipeline.JobStatusFailed
		s.jobs[jobID] = job
		s.failed = s.retain(append(s.failed, jobID), s.cfg.RetainFailed)
	}
	return nil
}

// retain evicts the oldest terminal jobs beyond the retention limit.
func (s *JobStore) retain(ids []string, limit int) []string {
	for len(ids) > limit {
		delete(s.jobs, ids[0])
		ids = ids[1:]
	}
	return ids
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.PublishJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.PublishJob{}, ErrJobNotFound
	}
	return job, nil
}

// CancelQueued removes a job that has not started; anything already active
// or terminal stays put.
func (s *JobStore) CancelQueued(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != pipeline.JobStatusQueued {
		return fmt.Errorf("job %s is %s and cannot be canceled", jobID, job.Status)
	}
	delete(s.jobs, jobID)
	return nil
}

// Counts returns a point-in-time snapshot of queue occupancy.
func (s *JobStore) Counts(_ context.Context) (pipeline.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts pipeline.StatusCounts
	for _, job := range s.jobs {
		switch job.Status {
		case pipeline.JobStatusQueued:
			counts.Queued++
		case pipeline.JobStatusActive:
			counts.Active++
		case pipeline.JobStatusCompleted:
			counts.Completed++
		case pipeline.JobStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}
