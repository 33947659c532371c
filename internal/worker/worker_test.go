package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivememory "github.com/contentloop/publishd/internal/archive/memory"
	"github.com/contentloop/publishd/internal/events"
	"github.com/contentloop/publishd/internal/pipeline"
)

type fakeStore struct {
	mu        sync.Mutex
	job       pipeline.PublishJob
	claimErr  error
	completed []struct {
		attempts int
		url      string
	}
	failed []struct {
		attempts  int
		lastError string
	}
}

func (s *fakeStore) CreateJob(context.Context, pipeline.PublishJob) error { return nil }

func (s *fakeStore) ClaimJob(_ context.Context, jobID string) (pipeline.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return pipeline.PublishJob{}, s.claimErr
	}
	job := s.job
	job.Status = pipeline.JobStatusActive
	return job, nil
}

func (s *fakeStore) CompleteJob(_ context.Context, _ string, attempts int, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, struct {
		attempts int
		url      string
	}{attempts, url})
	return nil
}

func (s *fakeStore) FailJob(_ context.Context, _ string, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, struct {
		attempts  int
		lastError string
	}{attempts, lastError})
	return nil
}

func (s *fakeStore) GetJob(context.Context, string) (pipeline.PublishJob, error) {
	return s.job, nil
}

func (s *fakeStore) CancelQueued(context.Context, string) error { return nil }

func (s *fakeStore) Counts(context.Context) (pipeline.StatusCounts, error) {
	return pipeline.StatusCounts{}, nil
}

type fakeCreds struct {
	mu    sync.Mutex
	creds pipeline.SiteCredentials
	found bool
	err   error
	calls int
}

func (c *fakeCreds) Resolve(string) (pipeline.SiteCredentials, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.creds, c.found, c.err
}

type fakeGenerator struct {
	article pipeline.GeneratedArticle
	err     error
	calls   int
}

func (g *fakeGenerator) Generate(context.Context, string, string) (pipeline.GeneratedArticle, error) {
	g.calls++
	if g.err != nil {
		return pipeline.GeneratedArticle{}, g.err
	}
	return g.article, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	results []engineResult
	calls   int
}

type engineResult struct {
	url string
	err error
}

func (e *fakeEngine) Publish(context.Context, pipeline.PublishJob, pipeline.SiteCredentials, pipeline.GeneratedArticle) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.calls
	e.calls++
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	r := e.results[idx]
	return r.url, r.err
}

func (e *fakeEngine) TestLogin(context.Context, pipeline.SiteCredentials) error { return nil }

type fakeThrottle struct {
	mu    sync.Mutex
	calls int
}

func (t *fakeThrottle) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return ctx.Err()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []events.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Stage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	worker    *Worker
	store     *fakeStore
	creds     *fakeCreds
	generator *fakeGenerator
	engine    *fakeEngine
	throttle  *fakeThrottle
	emitter   *recordingEmitter
	artifacts *archivememory.Store
}

func newHarness(t *testing.T, engineResults ...engineResult) *harness {
	t.Helper()
	store := &fakeStore{
		job: pipeline.PublishJob{
			ID:        "job-1",
			Topic:     "Go generics",
			Site:      "blog.example.com",
			Status:    pipeline.JobStatusQueued,
			Submitted: time.Now().UTC(),
		},
	}
	creds := &fakeCreds{
		creds: pipeline.SiteCredentials{AdminURL: "https://blog.example.com/wp-admin", Username: "editor", Password: "pw"},
		found: true,
	}
	gen := &fakeGenerator{article: pipeline.GeneratedArticle{Title: "Go Generics", HTMLContent: "<p>body</p>"}}
	eng := &fakeEngine{results: engineResults}
	throttle := &fakeThrottle{}
	emitter := &recordingEmitter{}
	artifacts := archivememory.New()

	w := New(nil, store, creds, gen, eng, nil, artifacts, throttle, emitter,
		&fixedClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
		Config{MaxAttempts: 2, BackoffBase: time.Millisecond},
		zap.NewNop(),
	)
	return &harness{
		worker: w, store: store, creds: creds, generator: gen,
		engine: eng, throttle: throttle, emitter: emitter, artifacts: artifacts,
	}
}

func TestProcessJobSucceedsFirstAttempt(t *testing.T) {
	h := newHarness(t, engineResult{url: "https://blog.example.com/go-generics"})

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.completed, 1)
	assert.Equal(t, 1, h.store.completed[0].attempts)
	assert.Equal(t, "https://blog.example.com/go-generics", h.store.completed[0].url)
	assert.Empty(t, h.store.failed)
	assert.Equal(t, []events.Stage{events.StageAttemptStart, events.StageJobDone}, h.emitter.stages())
	assert.Equal(t, 1, h.artifacts.Len())
}

func TestProcessJobRetriesRetryableFailure(t *testing.T) {
	h := newHarness(t,
		engineResult{err: pipeline.Errorf(pipeline.ErrKindAuthentication, "login rejected")},
		engineResult{url: "https://blog.example.com/go-generics"},
	)

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.completed, 1)
	assert.Equal(t, 2, h.store.completed[0].attempts)
	assert.Equal(t, 2, h.engine.calls)
	assert.Equal(t, []events.Stage{
		events.StageAttemptStart,
		events.StageRetryWait,
		events.StageAttemptStart,
		events.StageJobDone,
	}, h.emitter.stages())
	// Credentials and content are produced fresh per attempt.
	assert.Equal(t, 2, h.creds.calls)
	assert.Equal(t, 2, h.generator.calls)
	assert.Equal(t, 2, h.throttle.calls)
}

func TestProcessJobStopsOnTerminalFailure(t *testing.T) {
	h := newHarness(t,
		engineResult{err: pipeline.Errorf(pipeline.ErrKindValidation, "empty topic")},
	)

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.failed, 1)
	assert.Equal(t, 1, h.store.failed[0].attempts)
	assert.Contains(t, h.store.failed[0].lastError, "empty topic")
	assert.Equal(t, 1, h.engine.calls)
	assert.Equal(t, []events.Stage{events.StageAttemptStart, events.StageJobError}, h.emitter.stages())
}

func TestProcessJobFailsWhenAttemptsExhausted(t *testing.T) {
	h := newHarness(t,
		engineResult{err: pipeline.Errorf(pipeline.ErrKindElementNotFound, "publish button missing")},
	)

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.failed, 1)
	assert.Equal(t, 2, h.store.failed[0].attempts)
	assert.Contains(t, h.store.failed[0].lastError, "publish button missing")
	assert.Equal(t, 2, h.engine.calls)
}

func TestProcessJobFailsFastWithoutCredentials(t *testing.T) {
	h := newHarness(t, engineResult{url: "unused"})
	h.creds.found = false

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.failed, 1)
	assert.Equal(t, 1, h.store.failed[0].attempts)
	assert.Contains(t, h.store.failed[0].lastError, "no credentials configured")
	assert.Zero(t, h.engine.calls)
	assert.Zero(t, h.generator.calls)
}

func TestProcessJobTreatsAmbiguousCredentialsAsTerminal(t *testing.T) {
	h := newHarness(t, engineResult{url: "unused"})
	h.creds.err = errors.New(`site "example" matches multiple configured entries`)

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.failed, 1)
	assert.Equal(t, 1, h.store.failed[0].attempts)
	assert.Zero(t, h.engine.calls)
}

func TestProcessJobSkipsUnclaimableJob(t *testing.T) {
	h := newHarness(t, engineResult{url: "unused"})
	h.store.claimErr = errors.New("job job-1 is not claimable")

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	assert.Empty(t, h.store.completed)
	assert.Empty(t, h.store.failed)
	assert.Zero(t, h.engine.calls)
}

func TestProcessJobContentGenerationFailureIsRetryable(t *testing.T) {
	h := newHarness(t, engineResult{url: "unused"})
	h.generator.err = pipeline.Errorf(pipeline.ErrKindContentGeneration, "generator returned status 502")

	h.worker.processJob(context.Background(), pipeline.QueueItem{JobID: "job-1"})

	require.Len(t, h.store.failed, 1)
	assert.Equal(t, 2, h.store.failed[0].attempts)
	assert.Zero(t, h.engine.calls)
	assert.Equal(t, 2, h.generator.calls)
}

func TestRunStopsWhenContextCancels(t *testing.T) {
	h := newHarness(t, engineResult{url: "unused"})
	q := make(chan pipeline.QueueItem)
	h.worker.queue = blockedQueue{ch: q}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

type blockedQueue struct {
	ch chan pipeline.QueueItem
}

func (q blockedQueue) Enqueue(_ context.Context, item pipeline.QueueItem) error {
	q.ch <- item
	return nil
}

func (q blockedQueue) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	select {
	case <-ctx.Done():
		return pipeline.QueueItem{}, ctx.Err()
	case item := <-q.ch:
		return item, nil
	}
}
