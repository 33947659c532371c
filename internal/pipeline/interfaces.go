package pipeline

import (
	"context"
	"time"
)

// Queue provides enqueue/dequeue semantics for publish jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobStore persists job records and enforces the single-active-execution
// invariant via ClaimJob.
type JobStore interface {
	CreateJob(ctx context.Context, job PublishJob) error
	// ClaimJob transitions a queued job to active and returns it. A job that
	// is not in queued state cannot be claimed, so no job is ever picked up
	// by two workers simultaneously.
	ClaimJob(ctx context.Context, jobID string) (PublishJob, error)
	CompleteJob(ctx context.Context, jobID string, attempts int, url string) error
	FailJob(ctx context.Context, jobID string, attempts int, lastError string) error
	GetJob(ctx context.Context, jobID string) (PublishJob, error)
	// CancelQueued removes a job that has not started; active jobs are not
	// cancellable.
	CancelQueued(ctx context.Context, jobID string) error
	Counts(ctx context.Context) (StatusCounts, error)
}

// CredentialSource resolves login credentials for a site identifier.
// Not-found is a value, not an error; the error return is reserved for
// ambiguous configuration.
type CredentialSource interface {
	Resolve(site string) (SiteCredentials, bool, error)
}

// Generator produces a fresh article for a topic. Output is never cached.
type Generator interface {
	Generate(ctx context.Context, topic, instructions string) (GeneratedArticle, error)
}

// Engine drives one authenticated browser session through the publish flow
// for a single attempt and returns the resulting URL.
type Engine interface {
	Publish(ctx context.Context, job PublishJob, creds SiteCredentials, article GeneratedArticle) (string, error)
	// TestLogin exercises only the login portion of the flow.
	TestLogin(ctx context.Context, creds SiteCredentials) error
}

// Preflight verifies a site's admin entry point is reachable before a
// browser session is spent on it.
type Preflight interface {
	Check(ctx context.Context, adminURL string) error
}

// ArtifactStore archives generated article HTML and returns a URI.
type ArtifactStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
