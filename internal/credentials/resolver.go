// Package credentials maps site identifiers to admin login credentials.
package credentials

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/contentloop/publishd/internal/pipeline"
)

// Entry is one operator-configured credential record.
type Entry struct {
	URL      string
	Username string
	Password string
}

type record struct {
	entry Entry
	host  string
}

// Resolver matches site identifiers against a static credential list.
// The list is read-only shared state; nothing mutates it at runtime.
type Resolver struct {
	records []record
}

// NewResolver validates the configured entries and builds a Resolver.
// Malformed entries fail construction so bad configuration surfaces at
// startup rather than on the first job for that site.
func NewResolver(entries []Entry) (*Resolver, error) {
	records := make([]record, 0, len(entries))
	for i, e := range entries {
		if e.URL == "" || e.Username == "" || e.Password == "" {
			return nil, fmt.Errorf("credential entry %d is incomplete", i)
		}
		host, err := hostOf(e.URL)
		if err != nil {
			return nil, fmt.Errorf("credential entry %d: %w", i, err)
		}
		records = append(records, record{entry: e, host: host})
	}
	return &Resolver{records: records}, nil
}

// Resolve returns the credentials for a site identifier. Matching is
// host-aware and most-specific-first: an exact host match wins outright,
// otherwise the candidate whose host stays closest to the identifier does.
// Two distinct equally-specific candidates are reported as an error instead
// of silently picking whichever was configured first.
func (r *Resolver) Resolve(site string) (pipeline.SiteCredentials, bool, error) {
	needle := normalizeSite(site)
	if needle == "" {
		return pipeline.SiteCredentials{}, false, nil
	}

	var best []record
	bestLen := -1
	for _, rec := range r.records {
		switch {
		case rec.host == needle:
			// Exact host match is maximally specific.
			if bestLen != 0 {
				best, bestLen = nil, 0
			}
			best = append(best, rec)
		case bestLen == 0:
			continue
		case strings.Contains(rec.host, needle) || strings.Contains(rec.entry.URL, needle):
			if bestLen == -1 || len(rec.host) < bestLen {
				best, bestLen = []record{rec}, len(rec.host)
			} else if len(rec.host) == bestLen {
				best = append(best, rec)
			}
		}
	}

	switch {
	case len(best) == 0:
		return pipeline.SiteCredentials{}, false, nil
	case len(best) > 1 && !sameHost(best):
		return pipeline.SiteCredentials{}, false, fmt.Errorf(
			"site %q matches multiple configured entries (%s and %s); use a more specific identifier",
			site, best[0].host, best[1].host,
		)
	default:
		e := best[0].entry
		return pipeline.SiteCredentials{
			AdminURL: e.URL,
			Username: e.Username,
			Password: e.Password,
		}, true, nil
	}
}

func sameHost(recs []record) bool {
	for _, rec := range recs[1:] {
		if rec.host != recs[0].host {
			return false
		}
	}
	return true
}

func normalizeSite(site string) string {
	s := strings.ToLower(strings.TrimSpace(site))
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	return strings.TrimPrefix(s, "www.")
}

func hostOf(raw string) (string, error) {
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www."), nil
}
