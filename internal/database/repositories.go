package database

import (
	"context"
	"time"

	"github.com/benvon/render-gate/internal/models"
	"github.com/google/uuid"
)

// ProfileRepositoryInterface covers the profile reads and writes the HTTP
// layer and the CLI depend on, so they can be exercised with fakes.
type ProfileRepositoryInterface interface {
	GetProfile(ctx context.Context, callerID string) (*models.CallerProfile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CallerProfile, error)
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error
	IncrementUsage(ctx context.Context, id uuid.UUID, ceiling int) (int, error)
	RefundUsage(ctx context.Context, id uuid.UUID) error
	ResetUsage(ctx context.Context, id uuid.UUID, nextReset time.Time) error
}

// UsageResetStore is the slice of the profile repository the usage resetter needs.
type UsageResetStore interface {
	ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (int64, error)
}

// RatelimitConfigSource supplies stored edge rate overrides.
type RatelimitConfigSource interface {
	Get(ctx context.Context, key string) (*models.RatelimitConfig, error)
}

// Ensure concrete types implement the interfaces
var (
	_ ProfileRepositoryInterface = (*ProfileRepository)(nil)
	_ UsageResetStore            = (*ProfileRepository)(nil)
	_ RatelimitConfigSource      = (*RatelimitConfigRepository)(nil)
)
