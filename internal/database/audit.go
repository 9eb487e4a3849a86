package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benvon/render-gate/internal/models"
)

// AuditRepository persists audit records to the audit_log table.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts rec. It implements gate.AuditSink.
func (r *AuditRepository) Record(ctx context.Context, rec models.AuditRecord) error {
	var details []byte
	if len(rec.Details) > 0 {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, identity, action, target_type, target_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Timestamp, rec.Identity, rec.Action, rec.TargetType, rec.TargetID, details)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// ListByIdentity returns the most recent audit records for identity.
func (r *AuditRepository) ListByIdentity(ctx context.Context, identity string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, occurred_at, identity, action, target_type, target_id, details
		FROM audit_log
		WHERE identity = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var details []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Identity, &rec.Action, &rec.TargetType, &rec.TargetID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return records, nil
}
