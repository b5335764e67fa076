package ratelimit

import "time"

// DefaultInterval is the minimum time between remote metadata checks.
const DefaultInterval = 5 * time.Minute

// Limiter throttles remote metadata checks based on the last check time
// recorded in the manifest. It holds no state of its own.
type Limiter struct {
	MinInterval time.Duration
}

// New creates a limiter; a zero interval disables throttling.
func New(minInterval time.Duration) Limiter {
	return Limiter{MinInterval: minInterval}
}

// ShouldCheck reports whether a metadata check is due. A forced check is
// always due. The caller must record and persist now as the new last-check
// time before contacting any remote.
func (l Limiter) ShouldCheck(lastCheckedAt, now time.Time, forced bool) bool {
	if forced {
		return true
	}
	return now.Sub(lastCheckedAt) >= l.MinInterval
}

// NextCheck returns the earliest time an unforced check will be allowed.
func (l Limiter) NextCheck(lastCheckedAt time.Time) time.Time {
	return lastCheckedAt.Add(l.MinInterval)
}
