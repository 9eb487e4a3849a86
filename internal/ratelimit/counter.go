package ratelimit

import "time"

// WindowCounter is one identifier's count within its current fixed window.
type WindowCounter struct {
	Identifier string
	Count      int
	WindowEnd  time.Time
}

// Expired reports whether the window has closed at now. An expired counter is
// treated exactly like a missing one.
func (c *WindowCounter) Expired(now time.Time) bool {
	return now.After(c.WindowEnd)
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_time"`
}

// RetryAfter is how long a denied caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}
