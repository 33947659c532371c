// Package worker implements the publish pipeline execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/contentloop/publishd/internal/archive"
	"github.com/contentloop/publishd/internal/events"
	"github.com/contentloop/publishd/internal/pipeline"
)

// Config controls Worker behavior.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	ContentType string
}

// Throttle gates the start of each publish attempt.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Worker consumes queue items and executes the publish pipeline: resolve
// credentials, probe the site, generate content, drive the browser, record
// the outcome.
type Worker struct {
	queue     pipeline.Queue
	jobStore  pipeline.JobStore
	creds     pipeline.CredentialSource
	generator pipeline.Generator
	engine    pipeline.Engine
	preflight pipeline.Preflight
	artifacts pipeline.ArtifactStore
	throttle  Throttle
	emitter   events.Emitter
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue pipeline.Queue,
	jobStore pipeline.JobStore,
	creds pipeline.CredentialSource,
	generator pipeline.Generator,
	engine pipeline.Engine,
	preflight pipeline.Preflight,
	artifacts pipeline.ArtifactStore,
	throttle Throttle,
	emitter events.Emitter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if artifacts == nil {
		artifacts = archive.NopStore{}
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		creds:     creds,
		generator: generator,
		engine:    engine,
		preflight: preflight,
		artifacts: artifacts,
		throttle:  throttle,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item pipeline.QueueItem) {
	job, err := w.jobStore.ClaimJob(ctx, item.JobID)
	if err != nil {
		// A canceled job leaves its queue entry behind; skip it.
		w.logger.Debug("job not claimable, skipping", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	start := w.clock.Now()
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := w.throttle.Wait(ctx); err != nil {
			// Shutdown while waiting for a slot. The job stays active and
			// is recovered into the queue on the next start.
			w.logger.Info("throttle wait aborted", zap.String("job_id", job.ID), zap.Error(err))
			return
		}

		w.emit(events.Event{
			JobID:   job.ID,
			TS:      w.clock.Now(),
			Stage:   events.StageAttemptStart,
			Site:    job.Site,
			Attempt: attempt,
		})
		w.logger.Info("publish attempt starting",
			zap.String("job_id", job.ID),
			zap.String("site", job.Site),
			zap.Int("attempt", attempt),
		)

		url, err := w.attempt(ctx, job, attempt)
		if err == nil {
			w.complete(ctx, job, attempt, url, start)
			return
		}

		kind := pipeline.KindOf(err)
		w.logger.Warn("publish attempt failed",
			zap.String("job_id", job.ID),
			zap.String("site", job.Site),
			zap.Int("attempt", attempt),
			zap.String("err_kind", string(kind)),
			zap.Error(err),
		)

		if !pipeline.IsRetryable(err) || attempt == w.cfg.MaxAttempts {
			w.fail(ctx, job, attempt, err, start)
			return
		}

		delay := Backoff(w.cfg.BackoffBase, attempt)
		w.emit(events.Event{
			JobID:   job.ID,
			TS:      w.clock.Now(),
			Stage:   events.StageRetryWait,
			Site:    job.Site,
			Attempt: attempt,
			ErrKind: string(kind),
			Note:    err.Error(),
		})
		if !w.sleep(ctx, delay) {
			w.logger.Info("retry wait aborted", zap.String("job_id", job.ID))
			return
		}
	}
}

// attempt runs one full publish pass. Every stage is redone from scratch:
// credentials may have rotated and generated content is never reused across
// attempts.
func (w *Worker) attempt(ctx context.Context, job pipeline.PublishJob, attempt int) (string, error) {
	creds, ok, err := w.creds.Resolve(job.Site)
	if err != nil {
		return "", pipeline.Classify(pipeline.ErrKindValidation, err)
	}
	if !ok {
		return "", pipeline.Errorf(pipeline.ErrKindCredentialsNotConfigured,
			"no credentials configured for site %q", job.Site)
	}

	if w.preflight != nil {
		if err := w.preflight.Check(ctx, creds.AdminURL); err != nil {
			return "", err
		}
	}

	article, err := w.generator.Generate(ctx, job.Topic, job.Instructions)
	if err != nil {
		return "", err
	}

	w.archiveArtifact(ctx, job, attempt, article)

	url, err := w.engine.Publish(ctx, job, creds, article)
	if err != nil {
		return "", err
	}
	return url, nil
}

// archiveArtifact stores the generated HTML for later inspection. Failures
// are logged and never block the publish.
func (w *Worker) archiveArtifact(ctx context.Context, job pipeline.PublishJob, attempt int, article pipeline.GeneratedArticle) {
	path := archive.ObjectPath(job.ID, attempt, w.clock.Now())
	uri, err := w.artifacts.Put(ctx, path, w.cfg.ContentType, []byte(article.HTMLContent))
	if err != nil {
		w.logger.Warn("artifact archive failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if uri != "" {
		w.logger.Debug("artifact archived", zap.String("job_id", job.ID), zap.String("uri", uri))
	}
}

func (w *Worker) complete(ctx context.Context, job pipeline.PublishJob, attempt int, url string, start time.Time) {
	if err := w.jobStore.CompleteJob(ctx, job.ID, attempt, url); err != nil {
		w.logger.Error("complete job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.emit(events.Event{
		JobID:   job.ID,
		TS:      w.clock.Now(),
		Stage:   events.StageJobDone,
		Site:    job.Site,
		Attempt: attempt,
		URL:     url,
		Dur:     w.clock.Now().Sub(start),
	})
	w.logger.Info("job published",
		zap.String("job_id", job.ID),
		zap.String("site", job.Site),
		zap.String("url", url),
		zap.Int("attempts", attempt),
	)
}

func (w *Worker) fail(ctx context.Context, job pipeline.PublishJob, attempt int, cause error, start time.Time) {
	if err := w.jobStore.FailJob(ctx, job.ID, attempt, cause.Error()); err != nil {
		w.logger.Error("fail job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.emit(events.Event{
		JobID:   job.ID,
		TS:      w.clock.Now(),
		Stage:   events.StageJobError,
		Site:    job.Site,
		Attempt: attempt,
		ErrKind: string(pipeline.KindOf(cause)),
		Note:    cause.Error(),
		Dur:     w.clock.Now().Sub(start),
	})
	w.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("site", job.Site),
		zap.Int("attempts", attempt),
		zap.Error(cause),
	)
}

func (w *Worker) emit(evt events.Event) {
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
