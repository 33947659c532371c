// Package postgres provides the durable Postgres-backed job store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contentloop/publishd/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrJobNotFound is returned when a job id has no row (or was evicted).
var ErrJobNotFound = errors.New("job not found")

// Config controls the Postgres connection pool and retention caps.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	RetainCompleted int
	RetainFailed    int
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists job records in Postgres so queued work survives process
// restarts.
type JobStore struct {
	pool            querier
	table           string
	retainCompleted int
	retainFailed    int
}

// NewJobStore connects a pool and builds the store.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithQuerier(pool, cfg)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool querier, cfg Config) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithQuerier(pool, cfg)
}

func newWithQuerier(pool querier, cfg Config) (*JobStore, error) {
	table := cfg.Table
	if table == "" {
		table = "publish_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	retainCompleted := cfg.RetainCompleted
	if retainCompleted <= 0 {
		retainCompleted = 100
	}
	retainFailed := cfg.RetainFailed
	if retainFailed <= 0 {
		retainFailed = 50
	}
	return &JobStore{
		pool:            pool,
		table:           table,
		retainCompleted: retainCompleted,
		retainFailed:    retainFailed,
	}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	site TEXT NOT NULL,
	instructions TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	publish_immediately BOOLEAN NOT NULL DEFAULT TRUE,
	status TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	result_success BOOLEAN,
	result_url TEXT,
	result_error TEXT,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row in queued state.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.PublishJob) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, topic, site, instructions, category, tags, publish_immediately, status, attempts, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Topic,
		job.Site,
		job.Instructions,
		job.Category,
		job.Tags,
		job.PublishImmediately,
		string(pipeline.JobStatusQueued),
		0,
		job.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimJob flips a queued row to active in one conditional update, so two
// workers can never hold the same job.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string) (pipeline.PublishJob, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, started_at = $3
WHERE id = $1 AND status = $4
RETURNING id, topic, site, instructions, category, tags, publish_immediately, status, attempts,
	result_success, result_url, result_error, submitted_at, started_at, finished_at`, s.table)
	row := s.pool.QueryRow(ctx, query,
		jobID,
		string(pipeline.JobStatusActive),
		time.Now().UTC(),
		string(pipeline.JobStatusQueued),
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.PublishJob{}, fmt.Errorf("job %s is not claimable", jobID)
	}
	if err != nil {
		return pipeline.PublishJob{}, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob records a successful terminal outcome and prunes retention.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, attempts int, url string) error {
	if err := s.finish(ctx, jobID, attempts, pipeline.JobStatusCompleted, true, url, ""); err != nil {
		return err
	}
	return s.prune(ctx, pipeline.JobStatusCompleted, s.retainCompleted)
}

// FailJob records a failed terminal outcome and prunes retention.
func (s *JobStore) FailJob(ctx context.Context, jobID string, attempts int, lastError string) error {
	if err := s.finish(ctx, jobID, attempts, pipeline.JobStatusFailed, false, "", lastError); err != nil {
		return err
	}
	return s.prune(ctx, pipeline.JobStatusFailed, s.retainFailed)
}

func (s *JobStore) finish(
	ctx context.Context,
	jobID string,
	attempts int,
	status pipeline.JobStatus,
	success bool,
	url string,
	lastError string,
) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, attempts = $3, result_success = $4, result_url = $5, result_error = $6, finished_at = $7
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		jobID, string(status), attempts, success, url, lastError, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// prune evicts the oldest terminal rows beyond the retention cap.
func (s *JobStore) prune(ctx context.Context, status pipeline.JobStatus, keep int) error {
	query := fmt.Sprintf(`
DELETE FROM %s WHERE status = $1 AND id NOT IN (
	SELECT id FROM %s WHERE status = $1 ORDER BY finished_at DESC LIMIT $2
)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, query, string(status), keep); err != nil {
		return fmt.Errorf("prune %s jobs: %w", status, err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.PublishJob, error) {
	query := fmt.Sprintf(`
SELECT id, topic, site, instructions, category, tags, publish_immediately, status, attempts,
	result_success, result_url, result_error, submitted_at, started_at, finished_at
FROM %s WHERE id = $1`, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.PublishJob{}, ErrJobNotFound
	}
	if err != nil {
		return pipeline.PublishJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// CancelQueued deletes a job row only while it is still queued.
func (s *JobStore) CancelQueued(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(pipeline.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not queued and cannot be canceled", jobID)
	}
	return nil
}

// Counts returns a point-in-time snapshot of queue occupancy.
func (s *JobStore) Counts(ctx context.Context) (pipeline.StatusCounts, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return pipeline.StatusCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts pipeline.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return pipeline.StatusCounts{}, fmt.Errorf("scan count row: %w", err)
		}
		switch pipeline.JobStatus(status) {
		case pipeline.JobStatusQueued:
			counts.Queued = n
		case pipeline.JobStatusActive:
			counts.Active = n
		case pipeline.JobStatusCompleted:
			counts.Completed = n
		case pipeline.JobStatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return pipeline.StatusCounts{}, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}

// RecoverQueued re-queues jobs left active by a previous crash and returns
// every queued job id in submission order so the in-process queue can be
// refilled at startup.
func (s *JobStore) RecoverQueued(ctx context.Context) ([]pipeline.QueueItem, error) {
	reset := fmt.Sprintf(`UPDATE %s SET status = $1, started_at = NULL WHERE status = $2`, s.table)
	if _, err := s.pool.Exec(ctx, reset,
		string(pipeline.JobStatusQueued), string(pipeline.JobStatusActive)); err != nil {
		return nil, fmt.Errorf("requeue active jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, submitted_at FROM %s WHERE status = $1 ORDER BY submitted_at`, s.table)
	rows, err := s.pool.Query(ctx, query, string(pipeline.JobStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var items []pipeline.QueueItem
	for rows.Next() {
		var id string
		var submitted time.Time
		if err := rows.Scan(&id, &submitted); err != nil {
			return nil, fmt.Errorf("scan queued row: %w", err)
		}
		items = append(items, pipeline.QueueItem{JobID: id, Submitted: submitted.Unix()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued rows: %w", err)
	}
	return items, nil
}

func scanJob(row pgx.Row) (pipeline.PublishJob, error) {
	var (
		job           pipeline.PublishJob
		status        string
		resultSuccess *bool
		resultURL     *string
		resultError   *string
	)
	err := row.Scan(
		&job.ID,
		&job.Topic,
		&job.Site,
		&job.Instructions,
		&job.Category,
		&job.Tags,
		&job.PublishImmediately,
		&status,
		&job.Attempts,
		&resultSuccess,
		&resultURL,
		&resultError,
		&job.Submitted,
		&job.Started,
		&job.Finished,
	)
	if err != nil {
		return pipeline.PublishJob{}, err
	}
	job.Status = pipeline.JobStatus(status)
	if resultSuccess != nil {
		job.Result = &pipeline.PublishResult{Success: *resultSuccess}
		if resultURL != nil {
			job.Result.URL = *resultURL
		}
		if resultError != nil {
			job.Result.Error = *resultError
		}
	}
	return job, nil
}
