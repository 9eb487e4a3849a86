package admission

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAuthorizer struct {
	decision gate.Decision
	err      error
	calls    int
}

func (s *stubAuthorizer) Authorize(context.Context, *http.Request, gate.Action) (gate.Decision, error) {
	s.calls++
	return s.decision, s.err
}

func allowed(profile models.CallerProfile) gate.Decision {
	return gate.Decision{
		Authorized: true,
		Identity:   &models.Identity{Subject: "u1"},
		Profile:    &profile,
	}
}

var renderOp = Operation{
	Action:  gate.Action{Name: "render.create"},
	Class:   ratelimit.ClassRender,
	Metered: true,
}

func newService(t *testing.T, auth Authorizer, policy ratelimit.Policy, free int) *Service {
	t.Helper()
	reg := prometheus.NewRegistry()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(ratelimit.WithClock(func() time.Time { return now }))
	return NewService(auth, limiter, policy, free, zap.NewNop(), reg)
}

func request() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/v1/renders", nil)
}

func TestAdmit_Allowed(t *testing.T) {
	t.Parallel()
	s := newService(t, &stubAuthorizer{decision: allowed(models.CallerProfile{UsageThisPeriod: 1})}, ratelimit.DefaultPolicy(), 5)

	out, err := s.Admit(context.Background(), request(), renderOp)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, models.ReasonNone, out.Reason)
	require.NotNil(t, out.RateLimit)
	assert.Equal(t, 9, out.RateLimit.Remaining)
	require.NotNil(t, out.Quota)
	assert.EqualValues(t, 4, out.Quota.Remaining)
}

func TestAdmit_GateDenialShortCircuits(t *testing.T) {
	t.Parallel()
	auth := &stubAuthorizer{decision: gate.Decision{Reason: models.ReasonSuspended, Identity: &models.Identity{Subject: "u1"}}}
	s := newService(t, auth, ratelimit.DefaultPolicy(), 5)

	out, err := s.Admit(context.Background(), request(), renderOp)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, models.ReasonSuspended, out.Reason)
	assert.Nil(t, out.RateLimit)
	assert.Nil(t, out.Quota)
	_, ok := s.limiter.Peek(ratelimit.Key(ratelimit.ClassRender, "u1"))
	assert.False(t, ok, "denied callers must not touch the limiter")
}

func TestAdmit_RateLimited(t *testing.T) {
	t.Parallel()
	policy := ratelimit.DefaultPolicy()
	policy[ratelimit.ClassRender] = ratelimit.LimitConfig{MaxRequests: 2, Window: time.Minute}
	s := newService(t, &stubAuthorizer{decision: allowed(models.CallerProfile{SubscriptionActive: true})}, policy, 5)

	for i := 0; i < 2; i++ {
		out, err := s.Admit(context.Background(), request(), renderOp)
		require.NoError(t, err)
		require.True(t, out.Allowed)
	}
	out, err := s.Admit(context.Background(), request(), renderOp)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, models.ReasonRateLimited, out.Reason)
	require.NotNil(t, out.RateLimit)
	assert.Equal(t, 0, out.RateLimit.Remaining)
	assert.Nil(t, out.Quota)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.outcomes.WithLabelValues("render.create", "rate_limited")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.outcomes.WithLabelValues("render.create", "allowed")))
}

func TestAdmit_QuotaExceeded(t *testing.T) {
	t.Parallel()
	s := newService(t, &stubAuthorizer{decision: allowed(models.CallerProfile{UsageThisPeriod: 5})}, ratelimit.DefaultPolicy(), 5)

	out, err := s.Admit(context.Background(), request(), renderOp)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, models.ReasonQuotaExceeded, out.Reason)
	require.NotNil(t, out.Quota)
	assert.EqualValues(t, 0, out.Quota.Remaining)
	assert.EqualValues(t, 5, out.Quota.Limit)
}

func TestAdmit_UnmeteredSkipsQuota(t *testing.T) {
	t.Parallel()
	s := newService(t, &stubAuthorizer{decision: allowed(models.CallerProfile{UsageThisPeriod: 50})}, ratelimit.DefaultPolicy(), 5)

	out, err := s.Admit(context.Background(), request(), Operation{
		Action: gate.Action{Name: "checkout.create"},
		Class:  ratelimit.ClassCheckout,
	})
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Nil(t, out.Quota)
}

func TestAdmit_GateErrorFailsClosed(t *testing.T) {
	t.Parallel()
	s := newService(t, &stubAuthorizer{err: errors.New("db down")}, ratelimit.DefaultPolicy(), 5)

	out, err := s.Admit(context.Background(), request(), renderOp)
	require.Error(t, err)
	assert.False(t, out.Allowed)
}

func TestAdmit_UnknownClassFailsClosed(t *testing.T) {
	t.Parallel()
	s := newService(t, &stubAuthorizer{decision: allowed(models.CallerProfile{})}, ratelimit.Policy{}, 5)

	out, err := s.Admit(context.Background(), request(), renderOp)
	require.Error(t, err)
	assert.False(t, out.Allowed)
}
