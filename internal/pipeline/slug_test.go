package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"punctuation collapsed", "Top 10 Tips & Tricks!", "top-10-tips-tricks"},
		{"simple", "Best running shoes 2024", "best-running-shoes-2024"},
		{"leading and trailing junk", "  --Hello, World--  ", "hello-world"},
		{"consecutive separators", "a   b///c", "a-b-c"},
		{"already a slug", "already-a-slug", "already-a-slug"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
		{"uppercase", "SHOUTING TITLE", "shouting-title"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Slugify(tc.title))
		})
	}
}
