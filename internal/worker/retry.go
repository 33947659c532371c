package worker

import "time"

// maxBackoff caps the exponential schedule so late retries stay bounded.
const maxBackoff = 5 * time.Minute

// Backoff returns the wait before the retry that follows attempt. The delay
// doubles with each failed attempt: base, 2*base, 4*base, and so on.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
