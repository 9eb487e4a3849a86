// Package quota decides how much of the monthly render allowance a caller has left.
//
// Evaluate is pure: it only reads the profile snapshot it is handed. Bans are
// vetoed by the authorization gate before Evaluate is ever called.
package quota

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/benvon/render-gate/internal/models"
)

// Count is a quota figure that may be unbounded.
type Count int

// Unbounded marks a figure with no ceiling.
const Unbounded Count = -1

// Bounded returns n as a Count, clamped to zero.
func Bounded(n int) Count {
	if n < 0 {
		return 0
	}
	return Count(n)
}

// IsUnbounded reports whether c has no ceiling.
func (c Count) IsUnbounded() bool {
	return c == Unbounded
}

// String renders the count, or "unlimited".
func (c Count) String() string {
	if c.IsUnbounded() {
		return "unlimited"
	}
	return strconv.Itoa(int(c))
}

// MarshalJSON encodes unbounded counts as null.
func (c Count) MarshalJSON() ([]byte, error) {
	if c.IsUnbounded() {
		return []byte("null"), nil
	}
	return json.Marshal(int(c))
}

// UnmarshalJSON accepts null as Unbounded.
func (c *Count) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Unbounded
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Bounded(n)
	return nil
}

// Decision is the derived quota state for one caller. It is never persisted.
type Decision struct {
	Allowed     bool       `json:"allowed"`
	IsUnlimited bool       `json:"is_unlimited"`
	Remaining   Count      `json:"remaining"`
	Limit       Count      `json:"limit"`
	ResetAt     *time.Time `json:"reset_time,omitempty"`
}

// Evaluate applies the free tier ceiling to profile. Subscribers and admins
// are unlimited regardless of usage.
func Evaluate(profile models.CallerProfile, freeLimit int) Decision {
	if profile.SubscriptionActive || profile.IsAdmin {
		return Decision{
			Allowed:     true,
			IsUnlimited: true,
			Remaining:   Unbounded,
			Limit:       Unbounded,
			ResetAt:     profile.UsageResetAt,
		}
	}
	return Decision{
		Allowed:   profile.UsageThisPeriod < freeLimit,
		Remaining: Bounded(freeLimit - profile.UsageThisPeriod),
		Limit:     Bounded(freeLimit),
		ResetAt:   profile.UsageResetAt,
	}
}
