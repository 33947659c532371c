package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, Backoff(base, 1))
	assert.Equal(t, 10*time.Second, Backoff(base, 2))
	assert.Equal(t, 20*time.Second, Backoff(base, 3))
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, maxBackoff, Backoff(time.Minute, 10))
}

func TestBackoffDefendsAgainstBadInputs(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(0, 0))
	assert.Equal(t, 5*time.Second, Backoff(-time.Second, 1))
}
