package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPathGroupsByMonth(t *testing.T) {
	ts := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	got := ObjectPath("job-1", 2, ts)
	assert.Equal(t, "articles/2026/08/job-1/attempt-2.html", got)
}

func TestNopStoreDiscards(t *testing.T) {
	uri, err := NopStore{}.Put(context.Background(), "anything", "text/html", []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, uri)
}
