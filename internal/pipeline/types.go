// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// JobStatus represents the lifecycle state of a publish job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// PublishJob is the unit of work: one request to generate and publish a
// single article to one site.
type PublishJob struct {
	ID                 string         `json:"id"`
	Topic              string         `json:"topic"`
	Site               string         `json:"site"`
	Instructions       string         `json:"instructions,omitempty"`
	Category           string         `json:"category,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	PublishImmediately bool           `json:"publish_immediately"`
	Status             JobStatus      `json:"status"`
	Attempts           int            `json:"attempts"`
	Result             *PublishResult `json:"result,omitempty"`
	Submitted          time.Time      `json:"submitted_at"`
	Started            *time.Time     `json:"started_at,omitempty"`
	Finished           *time.Time     `json:"finished_at,omitempty"`
}

// PublishResult is the terminal outcome written back onto the job.
// URL is set only when Success is true.
type PublishResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SiteCredentials holds admin-panel login details for a target site.
// They are re-resolved on every attempt so rotation takes effect without
// redeploying queued jobs.
type SiteCredentials struct {
	AdminURL string
	Username string
	Password string
}

// GeneratedArticle is the ephemeral output of the content generator,
// produced fresh on every attempt and owned by that attempt alone.
type GeneratedArticle struct {
	Title       string `json:"title"`
	HTMLContent string `json:"htmlContent"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Submitted int64
}

// StatusCounts is a point-in-time snapshot of queue occupancy.
type StatusCounts struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
