package realtime

import "time"

// Reconnect policy defaults.
const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10

	backoffFactor = 1.5
)

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base * 1.5^(n-1), max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
		if d >= float64(max) {
			return max
		}
	}
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}
