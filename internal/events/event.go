// Package events defines the lifecycle event stream emitted by publish
// workers and the hub that fans it out to sinks.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported publish lifecycle stages.
const (
	StageJobQueued    Stage = "JOB_QUEUED"
	StageAttemptStart Stage = "ATTEMPT_START"
	StageRetryWait    Stage = "RETRY_WAIT"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
)

// Event captures a single milestone in a publish job's lifecycle.
type Event struct {
	// JobID identifies the publish job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Site is the target site identifier from the job.
	Site string
	// Attempt is the 1-based attempt number for attempt-scoped stages.
	Attempt int
	// ErrKind carries the failure classification for retry and error stages.
	ErrKind string
	// URL is the published article URL on success.
	URL string
	// Dur captures wall time for attempts and job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobDone:
	case StageAttemptStart:
		if e.Attempt < 1 {
			return errors.New("attempt start requires an attempt number")
		}
	case StageRetryWait:
		if e.Attempt < 1 {
			return errors.New("retry wait requires an attempt number")
		}
		if e.ErrKind == "" {
			return errors.New("retry wait requires an error kind")
		}
	case StageJobError:
		if e.ErrKind == "" {
			return errors.New("job error requires an error kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
