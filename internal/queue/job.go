package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeRender asks the render workers to produce a video.
	JobTypeRender JobType = "render"
)

// DefaultMaxRetries is how often a worker may retry a job before it is dead-lettered.
const DefaultMaxRetries = 3

// Job is a unit of work handed to the render workers.
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Type       JobType        `json:"type"`
	ProfileID  uuid.UUID      `json:"profile_id"`
	CallerID   string         `json:"caller_id"`
	NotAfter   *time.Time     `json:"not_after,omitempty"` // nil means no expiry
	Params     map[string]any `json:"params,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// NewJob creates a new job for the given profile.
func NewJob(jobType JobType, profileID uuid.UUID, callerID string) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		ProfileID:  profileID,
		CallerID:   callerID,
		Params:     make(map[string]any),
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}
	return time.Now().After(*j.NotAfter)
}

// TTL returns how long the job may wait in the queue, or zero when it never expires.
func (j *Job) TTL() time.Duration {
	if j.NotAfter == nil {
		return 0
	}
	if ttl := time.Until(*j.NotAfter); ttl > 0 {
		return ttl
	}
	return 0
}
