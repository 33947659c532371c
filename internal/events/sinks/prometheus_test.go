package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/contentloop/publishd/internal/events"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are
// incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []events.Event{
		{JobID: "job-1", TS: now, Stage: events.StageJobQueued, Site: "blog.example.com"},
		{JobID: "job-1", TS: now, Stage: events.StageAttemptStart, Site: "blog.example.com", Attempt: 1},
		{JobID: "job-1", TS: now, Stage: events.StageRetryWait, Site: "blog.example.com", Attempt: 1, ErrKind: "authentication"},
		{JobID: "job-1", TS: now, Stage: events.StageAttemptStart, Site: "blog.example.com", Attempt: 2},
		{JobID: "job-1", TS: now.Add(30 * time.Second), Stage: events.StageJobDone, Site: "blog.example.com", Attempt: 2, Dur: 30 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsQueued))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.attempts.WithLabelValues("blog.example.com")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("authentication")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "publishd_job_runtime_seconds"))
}

// TestPrometheusSinkTracksRunningGauge checks the running gauge stays
// balanced across overlapping jobs.
func TestPrometheusSinkTracksRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{JobID: "job-1", TS: now, Stage: events.StageAttemptStart, Site: "a.example.com", Attempt: 1},
		{JobID: "job-2", TS: now, Stage: events.StageAttemptStart, Site: "b.example.com", Attempt: 1},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{JobID: "job-1", TS: now, Stage: events.StageJobError, Attempt: 2, ErrKind: "authentication"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
}

// TestPrometheusSinkDoubleRegistration ensures registering twice against the
// same registry fails cleanly.
func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
