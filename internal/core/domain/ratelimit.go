package domain

import "time"

// RateLimitWindow is the pacing state of one provider+verb key.
// It is mutated only by the rate limiter.
type RateLimitWindow struct {
	LastRequestEndedAt time.Time
	Remaining          int
	Limit              int
	ResetAt            time.Time
	// SecondaryBlockUntil is set after a secondary (abuse) limit response.
	SecondaryBlockUntil time.Time
}

// Quota is the advisory provider-wide quota reported by host headers.
type Quota struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Known reports whether any quota header has been observed.
func (q Quota) Known() bool {
	return q.Limit > 0
}
