package gate

import (
	"context"
	"errors"

	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"go.uber.org/zap"
)

// LogSink writes audit records to a zap logger.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that logs every record at info level.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

// Record implements AuditSink.
func (s *LogSink) Record(_ context.Context, rec models.AuditRecord) error {
	s.log.Info("audit",
		zap.String("audit_id", rec.ID.String()),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("identity", logpkg.SanitizeUserID(rec.Identity)),
		zap.String("action", rec.Action),
		zap.String("target_type", rec.TargetType),
		zap.String("target_id", logpkg.SanitizeString(rec.TargetID, logpkg.MaxUserIDLength)),
		zap.Any("details", rec.Details),
	)
	return nil
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, rec models.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
