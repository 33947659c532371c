package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfRoundTrip(t *testing.T) {
	t.Parallel()

	err := Errorf(ErrKindAuthentication, "login rejected for %s", "admin")
	require.Equal(t, ErrKindAuthentication, KindOf(err))
	require.Contains(t, err.Error(), "authentication")
	require.Contains(t, err.Error(), "login rejected for admin")

	wrapped := fmt.Errorf("attempt 2: %w", err)
	require.Equal(t, ErrKindAuthentication, KindOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrKindUnknown, KindOf(errors.New("boom")))
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, Classify(ErrKindValidation, nil))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"credentials not configured", Errorf(ErrKindCredentialsNotConfigured, "no entry"), false},
		{"validation", Errorf(ErrKindValidation, "missing topic"), false},
		{"unauthorized", Errorf(ErrKindUnauthorized, "bad secret"), false},
		{"authentication", Errorf(ErrKindAuthentication, "bounced to login"), true},
		{"editor detection", Errorf(ErrKindEditorDetection, "no editor"), true},
		{"element not found", Errorf(ErrKindElementNotFound, "title field"), true},
		{"publish confirmation", Errorf(ErrKindPublishConfirmation, "no banner"), true},
		{"content generation", Errorf(ErrKindContentGeneration, "empty body"), true},
		{"unclassified", errors.New("boom"), true},
		{"bare cancellation", context.Canceled, false},
		{"bare deadline", context.DeadlineExceeded, false},
		// A step timeout classified by the engine stays retryable even though
		// a deadline error sits underneath.
		{
			"classified deadline",
			Classify(ErrKindElementNotFound, fmt.Errorf("wait title: %w", context.DeadlineExceeded)),
			true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
