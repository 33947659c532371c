// Package archive names and routes generated-article artifacts. Providers
// live in subpackages; this package holds the shared path scheme and the
// no-op store used when archiving is disabled.
package archive

import (
	"context"
	"fmt"
	"time"
)

// ObjectPath builds the canonical artifact path for a job attempt. Artifacts
// are grouped by month so bucket listings stay navigable.
func ObjectPath(jobID string, attempt int, ts time.Time) string {
	return fmt.Sprintf("articles/%s/%s/attempt-%d.html", ts.UTC().Format("2006/01"), jobID, attempt)
}

// NopStore discards artifacts. It stands in when no archive provider is
// configured.
type NopStore struct{}

// Put discards the artifact and returns an empty location.
func (NopStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
