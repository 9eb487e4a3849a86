package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord describes a privileged or gated action that was allowed to proceed.
type AuditRecord struct {
	ID         uuid.UUID      `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Identity   string         `json:"identity"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}
