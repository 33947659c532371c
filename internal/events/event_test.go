package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	tests := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{
			name: "valid queued",
			evt:  Event{JobID: "job-1", TS: now, Stage: StageJobQueued},
		},
		{
			name: "valid attempt",
			evt:  Event{JobID: "job-1", TS: now, Stage: StageAttemptStart, Site: "blog.example.com", Attempt: 1},
		},
		{
			name: "valid retry",
			evt:  Event{JobID: "job-1", TS: now, Stage: StageRetryWait, Attempt: 1, ErrKind: "authentication"},
		},
		{
			name: "valid error",
			evt:  Event{JobID: "job-1", TS: now, Stage: StageJobError, ErrKind: "authentication"},
		},
		{
			name:    "missing job id",
			evt:     Event{TS: now, Stage: StageJobQueued},
			wantErr: "job id is required",
		},
		{
			name:    "missing timestamp",
			evt:     Event{JobID: "job-1", Stage: StageJobQueued},
			wantErr: "timestamp is required",
		},
		{
			name:    "attempt without number",
			evt:     Event{JobID: "job-1", TS: now, Stage: StageAttemptStart},
			wantErr: "attempt start requires an attempt number",
		},
		{
			name:    "retry without kind",
			evt:     Event{JobID: "job-1", TS: now, Stage: StageRetryWait, Attempt: 1},
			wantErr: "retry wait requires an error kind",
		},
		{
			name:    "error without kind",
			evt:     Event{JobID: "job-1", TS: now, Stage: StageJobError},
			wantErr: "job error requires an error kind",
		},
		{
			name:    "unknown stage",
			evt:     Event{JobID: "job-1", TS: now, Stage: Stage("NOPE")},
			wantErr: "unknown stage",
		},
		{
			name:    "negative duration",
			evt:     Event{JobID: "job-1", TS: now, Stage: StageJobDone, Dur: -time.Second},
			wantErr: "duration must be >= 0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
