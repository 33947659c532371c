package pipeline

import "strings"

// Slugify derives a URL-safe slug from an article title: lowercased, runs of
// non-alphanumeric characters collapsed to single hyphens, no leading or
// trailing hyphen. Used as the permalink fallback when the editor's
// permalink element cannot be read.
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
