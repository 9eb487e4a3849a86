package models

import (
	"time"

	"github.com/google/uuid"
)

// CallerProfile is the read-only projection of a user record that the
// enforcement core needs. It is loaded per request and never cached.
type CallerProfile struct {
	ID                 uuid.UUID  `json:"id"`
	ProviderID         string     `json:"provider_id"`
	Email              string     `json:"email"`
	IsBanned           bool       `json:"is_banned"`
	IsAdmin            bool       `json:"is_admin"`
	SubscriptionActive bool       `json:"subscription_active"`
	UsageThisPeriod    int        `json:"usage_this_period"`
	UsageResetAt       *time.Time `json:"usage_reset_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Identity is a verified caller as reported by the identity resolver.
type Identity struct {
	Subject string `json:"sub"` // Stable caller id from the provider
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}
