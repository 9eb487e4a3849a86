package models

import "errors"

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated is returned by identity resolvers when the caller
	// presented no credentials or credentials that failed verification.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable marks a transient collaborator failure. It is never a
	// policy decision and must not be reported as one.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrQuotaExhausted is returned by usage stores when a conditional charge
	// would take a caller past their ceiling.
	ErrQuotaExhausted = errors.New("quota exhausted")
)
