// Package gate decides whether a caller may act at all: it resolves the
// caller's identity, loads their profile, applies the suspension veto and the
// admin requirement, and records an audit entry for every allowed action.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultAuditTimeout bounds a single audit delivery.
const DefaultAuditTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/benvon/render-gate/internal/gate")

// IdentityResolver turns a request into a verified caller. Credential
// problems are reported as models.ErrUnauthenticated, transient failures as
// models.ErrUnavailable.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (models.Identity, error)
}

// ProfileStore loads the profile for a caller id. A missing profile is
// reported as models.ErrNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, callerID string) (*models.CallerProfile, error)
}

// AuditSink receives audit records. Delivery is best effort.
type AuditSink interface {
	Record(ctx context.Context, rec models.AuditRecord) error
}

// Action describes what the caller is trying to do.
type Action struct {
	Name          string
	TargetType    string
	TargetID      string
	Details       map[string]any
	RequiresAdmin bool
}

// Decision is the gate's answer. Identity and Profile are set whenever they
// were resolved, including on some denials.
type Decision struct {
	Authorized bool
	Reason     models.Reason
	Identity   *models.Identity
	Profile    *models.CallerProfile
}

func deny(reason models.Reason) Decision {
	return Decision{Reason: reason}
}

// Gate composes identity resolution and profile lookup into a single
// authorized/forbidden answer.
type Gate struct {
	resolver     IdentityResolver
	profiles     ProfileStore
	audit        AuditSink
	log          *zap.Logger
	now          func() time.Time
	auditTimeout time.Duration
	wg           sync.WaitGroup
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithAuditTimeout bounds each audit delivery.
func WithAuditTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.auditTimeout = d
		}
	}
}

// New creates a Gate. audit may be nil, in which case nothing is recorded.
func New(resolver IdentityResolver, profiles ProfileStore, audit AuditSink, log *zap.Logger, opts ...Option) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		resolver:     resolver,
		profiles:     profiles,
		audit:        audit,
		log:          log,
		now:          time.Now,
		auditTimeout: DefaultAuditTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize runs the gate for action. A non-nil error means a collaborator
// failed and no policy decision could be made; callers must treat it as a
// denial and report it as an internal error.
func (g *Gate) Authorize(ctx context.Context, r *http.Request, action Action) (Decision, error) {
	ctx, span := tracer.Start(ctx, "gate.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("gate.action", action.Name),
		attribute.Bool("gate.requires_admin", action.RequiresAdmin),
	)

	identity, err := g.resolver.Resolve(ctx, r)
	if err != nil {
		if errors.Is(err, models.ErrUnavailable) {
			span.RecordError(err)
			return deny(models.ReasonNone), fmt.Errorf("resolve identity: %w", err)
		}
		g.logDenial(action, "", models.ReasonUnauthenticated, err)
		return deny(models.ReasonUnauthenticated), nil
	}
	if identity.Subject == "" {
		g.logDenial(action, "", models.ReasonUnauthenticated, nil)
		return deny(models.ReasonUnauthenticated), nil
	}

	profile, err := g.profiles.GetProfile(ctx, identity.Subject)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		span.RecordError(err)
		return deny(models.ReasonNone), fmt.Errorf("load profile: %w", err)
	}
	if err != nil || profile == nil {
		g.logDenial(action, identity.Subject, models.ReasonProfileMissing, nil)
		d := deny(models.ReasonProfileMissing)
		d.Identity = &identity
		return d, nil
	}

	decision := Decision{Identity: &identity, Profile: profile}
	switch {
	case profile.IsBanned:
		decision.Reason = models.ReasonSuspended
	case action.RequiresAdmin && !profile.IsAdmin:
		decision.Reason = models.ReasonForbidden
	default:
		decision.Authorized = true
	}
	span.SetAttributes(attribute.String("gate.reason", string(decision.Reason)))

	if !decision.Authorized {
		g.logDenial(action, identity.Subject, decision.Reason, nil)
		return decision, nil
	}

	g.emit(ctx, models.AuditRecord{
		ID:         uuid.New(),
		Timestamp:  g.now().UTC(),
		Identity:   identity.Subject,
		Action:     action.Name,
		TargetType: action.TargetType,
		TargetID:   action.TargetID,
		Details:    action.Details,
	})
	return decision, nil
}

// emit delivers rec in the background. Failures are logged and never reach the caller.
func (g *Gate) emit(ctx context.Context, rec models.AuditRecord) {
	if g.audit == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				g.log.Error("audit_sink_panicked",
					zap.Any("panic", p),
					zap.String("action", rec.Action),
				)
			}
		}()
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.auditTimeout)
		defer cancel()
		if err := g.audit.Record(auditCtx, rec); err != nil {
			g.log.Warn("audit_record_failed",
				zap.String("action", rec.Action),
				zap.String("identity", logpkg.SanitizeUserID(rec.Identity)),
				zap.String("error", logpkg.SanitizeError(err)),
			)
		}
	}()
}

// Close waits for in-flight audit deliveries.
func (g *Gate) Close() {
	g.wg.Wait()
}

func (g *Gate) logDenial(action Action, subject string, reason models.Reason, cause error) {
	fields := []zap.Field{
		zap.String("action", action.Name),
		zap.String("reason", string(reason)),
	}
	if subject != "" {
		fields = append(fields, zap.String("identity", logpkg.SanitizeUserID(subject)))
	}
	if cause != nil {
		fields = append(fields, zap.String("cause", logpkg.SanitizeError(cause)))
	}
	g.log.Info("authorization_denied", fields...)
}
