package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/render-gate/internal/models"
	"github.com/google/uuid"
)

const profileColumns = `id, provider_id, email, is_banned, is_admin, subscription_active,
		usage_this_period, usage_reset_at, created_at, updated_at`

// ProfileRepository reads caller profiles and applies the few writes the
// service owns: suspension flags and usage accounting.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.CallerProfile, error) {
	p := &models.CallerProfile{}
	var resetAt sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.ProviderID,
		&p.Email,
		&p.IsBanned,
		&p.IsAdmin,
		&p.SubscriptionActive,
		&p.UsageThisPeriod,
		&resetAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resetAt.Valid {
		t := resetAt.Time
		p.UsageResetAt = &t
	}
	return p, nil
}

// GetProfile retrieves a profile by the identity provider's subject. It
// implements gate.ProfileStore.
func (r *ProfileRepository) GetProfile(ctx context.Context, callerID string) (*models.CallerProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE provider_id = $1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, callerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile not found: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetByID retrieves a profile by its primary key.
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CallerProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = $1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile not found: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by id: %w", err)
	}
	return p, nil
}

// SetBanned suspends or reinstates a user.
func (r *ProfileRepository) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return r.execOne(ctx, "set banned",
		`UPDATE users SET is_banned = $2, updated_at = $3 WHERE id = $1`,
		id, banned, time.Now())
}

// SetAdmin grants or revokes administrative privilege.
func (r *ProfileRepository) SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error {
	return r.execOne(ctx, "set admin",
		`UPDATE users SET is_admin = $2, updated_at = $3 WHERE id = $1`,
		id, admin, time.Now())
}

// IncrementUsage records one metered operation and returns the new usage
// figure. When ceiling is non-negative the charge only applies while usage is
// below it; otherwise models.ErrQuotaExhausted is returned and nothing changes.
// A negative ceiling charges unconditionally.
func (r *ProfileRepository) IncrementUsage(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	var usage int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET usage_this_period = usage_this_period + 1, updated_at = $2
		WHERE id = $1 AND ($3 < 0 OR usage_this_period < $3)
		RETURNING usage_this_period
	`, id, time.Now(), ceiling).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.chargeRefused(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return usage, nil
}

// chargeRefused tells a missing profile apart from one already at its ceiling.
func (r *ProfileRepository) chargeRefused(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	if !exists {
		return fmt.Errorf("profile not found: %w", models.ErrNotFound)
	}
	return fmt.Errorf("usage at ceiling: %w", models.ErrQuotaExhausted)
}

// RefundUsage returns one unit of usage, never going below zero. It backs out
// an increment whose operation could not be handed off.
func (r *ProfileRepository) RefundUsage(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, "refund usage",
		`UPDATE users SET usage_this_period = GREATEST(usage_this_period - 1, 0), updated_at = $2 WHERE id = $1`,
		id, time.Now())
}

// ResetUsage zeroes a user's usage and schedules the next reset.
func (r *ProfileRepository) ResetUsage(ctx context.Context, id uuid.UUID, nextReset time.Time) error {
	return r.execOne(ctx, "reset usage",
		`UPDATE users SET usage_this_period = 0, usage_reset_at = $2, updated_at = $3 WHERE id = $1`,
		id, nextReset, time.Now())
}

// ResetExpiredUsage zeroes usage for every user whose period ended at or
// before now and returns how many rows were reset.
func (r *ProfileRepository) ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET usage_this_period = 0, usage_reset_at = $2, updated_at = $1
		WHERE usage_reset_at IS NULL OR usage_reset_at <= $1
	`, now, nextReset)
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *ProfileRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("profile not found: %w", models.ErrNotFound)
	}

	return nil
}

// NextPeriodStart returns the start of the calendar month after now, in UTC.
func NextPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
