package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{URL: "https://example.com/wp-admin", Username: "admin", Password: "pw-main"},
		{URL: "https://shop.example.com/wp-admin", Username: "shopadmin", Password: "pw-shop"},
		{URL: "https://blog.othersite.org/wp-login.php", Username: "editor", Password: "pw-blog"},
	}
}

func TestNewResolverRejectsIncompleteEntry(t *testing.T) {
	t.Parallel()

	_, err := NewResolver([]Entry{{URL: "https://example.com"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "incomplete")
}

func TestNewResolverRejectsHostlessURL(t *testing.T) {
	t.Parallel()

	_, err := NewResolver([]Entry{{URL: "/wp-admin", Username: "u", Password: "p"}})
	require.Error(t, err)
}

func TestResolveExactHostBeatsSubstring(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testEntries())
	require.NoError(t, err)

	// "example.com" is a substring of both hosts; the exact host wins.
	creds, ok, err := r.Resolve("example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "admin", creds.Username)
	require.Equal(t, "https://example.com/wp-admin", creds.AdminURL)
}

func TestResolveSubdomain(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testEntries())
	require.NoError(t, err)

	creds, ok, err := r.Resolve("shop.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shopadmin", creds.Username)
}

func TestResolvePartialIdentifier(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testEntries())
	require.NoError(t, err)

	creds, ok, err := r.Resolve("othersite")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "editor", creds.Username)
}

func TestResolveNotFoundIsAValue(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testEntries())
	require.NoError(t, err)

	_, ok, err := r.Resolve("unknownsite")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveAmbiguousIdentifierErrors(t *testing.T) {
	t.Parallel()

	r, err := NewResolver([]Entry{
		{URL: "https://eu.store.net/admin", Username: "a", Password: "x"},
		{URL: "https://us.store.net/admin", Username: "b", Password: "y"},
	})
	require.NoError(t, err)

	_, _, err = r.Resolve("store.net")
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple configured entries")
}

func TestResolveNormalizesIdentifier(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testEntries())
	require.NoError(t, err)

	creds, ok, err := r.Resolve("https://www.example.com/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "admin", creds.Username)

	_, ok, err = r.Resolve("")
	require.NoError(t, err)
	require.False(t, ok)
}
