// Package admission answers "may this caller perform this operation right now?"
// by running the authorization gate, the per-class rate limiter and, for
// metered operations, the monthly quota check, in that order.
package admission

import (
	"context"
	"fmt"
	"net/http"

	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/quota"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/benvon/render-gate/internal/services/admission")

// Authorizer is the part of the gate the service depends on.
type Authorizer interface {
	Authorize(ctx context.Context, r *http.Request, action gate.Action) (gate.Decision, error)
}

// Operation is a gated operation: the gate action, the limit class that
// throttles it and whether it consumes monthly quota.
type Operation struct {
	Action  gate.Action
	Class   ratelimit.Class
	Metered bool
}

// Outcome is the composed answer returned to handlers.
type Outcome struct {
	Allowed   bool
	Reason    models.Reason
	Identity  *models.Identity
	Profile   *models.CallerProfile
	RateLimit *ratelimit.Result
	Quota     *quota.Decision
}

// Service composes the gate, limiter and quota policy.
type Service struct {
	gate      Authorizer
	limiter   *ratelimit.Limiter
	policy    ratelimit.Policy
	freeLimit int
	log       *zap.Logger
	outcomes  *prometheus.CounterVec
}

// NewService creates an admission service. policy must already be validated.
// reg may be nil.
func NewService(g Authorizer, limiter *ratelimit.Limiter, policy ratelimit.Policy, freeLimit int, log *zap.Logger, reg prometheus.Registerer) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rendergate",
		Subsystem: "admission",
		Name:      "outcomes_total",
		Help:      "Admission outcomes by operation and reason.",
	}, []string{"operation", "reason"})
	if reg != nil {
		reg.MustRegister(outcomes)
	}
	return &Service{
		gate:      g,
		limiter:   limiter,
		policy:    policy,
		freeLimit: freeLimit,
		log:       log,
		outcomes:  outcomes,
	}
}

// FreeLimit returns the free tier ceiling the service applies.
func (s *Service) FreeLimit() int {
	return s.freeLimit
}

// Admit decides whether the caller behind r may perform op. An error means a
// collaborator failed; the caller must be refused with an internal error.
func (s *Service) Admit(ctx context.Context, r *http.Request, op Operation) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "admission.Admit")
	defer span.End()
	span.SetAttributes(
		attribute.String("admission.operation", op.Action.Name),
		attribute.String("admission.class", string(op.Class)),
	)

	decision, err := s.gate.Authorize(ctx, r, op.Action)
	if err != nil {
		span.RecordError(err)
		s.observe(op, "internal_error")
		return Outcome{}, fmt.Errorf("authorize %s: %w", op.Action.Name, err)
	}

	out := Outcome{
		Reason:   decision.Reason,
		Identity: decision.Identity,
		Profile:  decision.Profile,
	}
	if !decision.Authorized {
		return s.finish(op, out), nil
	}

	res, ok := s.limiter.Allow(s.policy, op.Class, decision.Identity.Subject)
	if !ok {
		s.observe(op, "internal_error")
		return Outcome{}, fmt.Errorf("limit class %q is not configured", op.Class)
	}
	out.RateLimit = &res
	if !res.Allowed {
		out.Reason = models.ReasonRateLimited
		s.log.Info("rate_limit_denied",
			zap.String("operation", op.Action.Name),
			zap.String("class", string(op.Class)),
			zap.Int("limit", res.Limit),
			zap.Time("reset_at", res.ResetAt),
		)
		return s.finish(op, out), nil
	}

	if op.Metered {
		q := quota.Evaluate(*decision.Profile, s.freeLimit)
		out.Quota = &q
		if !q.Allowed {
			out.Reason = models.ReasonQuotaExceeded
			return s.finish(op, out), nil
		}
	}

	out.Allowed = true
	out.Reason = models.ReasonNone
	return s.finish(op, out), nil
}

func (s *Service) finish(op Operation, out Outcome) Outcome {
	reason := string(out.Reason)
	if reason == "" {
		reason = "allowed"
	}
	s.observe(op, reason)
	return out
}

func (s *Service) observe(op Operation, reason string) {
	s.outcomes.WithLabelValues(op.Action.Name, reason).Inc()
}
