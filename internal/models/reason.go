package models

import "net/http"

// Reason is the machine-readable outcome of an enforcement decision.
// ReasonNone means the caller may proceed; every other value is a terminal denial.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonProfileMissing  Reason = "profile_missing"
	ReasonSuspended       Reason = "suspended"
	ReasonForbidden       Reason = "forbidden"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonQuotaExceeded   Reason = "quota_exceeded"
)

// Denied reports whether r is a denial.
func (r Reason) Denied() bool {
	return r != ReasonNone
}

// HTTPStatus maps the reason to the status code returned to callers.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonProfileMissing, ReasonSuspended, ReasonForbidden:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonQuotaExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a short human readable description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return "Allowed"
	case ReasonUnauthenticated:
		return "Authentication required"
	case ReasonProfileMissing:
		return "No account profile found for this identity"
	case ReasonSuspended:
		return "Account suspended"
	case ReasonForbidden:
		return "Administrator privileges required"
	case ReasonRateLimited:
		return "Too many requests, slow down"
	case ReasonQuotaExceeded:
		return "Monthly usage limit reached"
	default:
		return "Unknown outcome"
	}
}
