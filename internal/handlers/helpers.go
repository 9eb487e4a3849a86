package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/quota"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"go.uber.org/zap"
)

// Admitter runs the admission checks for a gated operation.
type Admitter interface {
	Admit(ctx context.Context, r *http.Request, op admission.Operation) (admission.Outcome, error)
	FreeLimit() int
}

// GateResponse is the structured result of a gated operation. Remaining and
// Limit are null when unbounded and omitted when no figure applies.
type GateResponse struct {
	Allowed   bool          `json:"allowed"`
	Reason    models.Reason `json:"reason,omitempty"`
	Remaining *quota.Count  `json:"remaining,omitempty"`
	Limit     *quota.Count  `json:"limit,omitempty"`
	ResetTime *time.Time    `json:"reset_time,omitempty"`
}

// newGateResponse picks the figures that explain out: the quota for quota
// denials and metered operations, otherwise the rate limit window.
func newGateResponse(out admission.Outcome) GateResponse {
	resp := GateResponse{Allowed: out.Allowed, Reason: out.Reason}
	switch {
	case out.Quota != nil && out.Reason != models.ReasonRateLimited:
		remaining, limit := out.Quota.Remaining, out.Quota.Limit
		resp.Remaining, resp.Limit, resp.ResetTime = &remaining, &limit, out.Quota.ResetAt
	case out.RateLimit != nil:
		remaining, limit := quota.Bounded(out.RateLimit.Remaining), quota.Bounded(out.RateLimit.Limit)
		reset := out.RateLimit.ResetAt
		resp.Remaining, resp.Limit, resp.ResetTime = &remaining, &limit, &reset
	}
	return resp
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage bounds the length of messages returned to clients.
func sanitizeErrorMessage(message string) string {
	if len(message) > 200 {
		return message[:200] + "..."
	}
	return message
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	respondError(w, status, errorType, message, nil)
}

func respondError(w http.ResponseWriter, status int, errorType, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizeErrorMessage(message),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		response["data"] = data
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondDenial answers a refused operation with its reason code and figures.
func respondDenial(w http.ResponseWriter, out admission.Outcome) {
	respondError(w, out.Reason.HTTPStatus(), string(out.Reason), out.Reason.Message(), newGateResponse(out))
}

// setRateLimitHeaders exposes the caller's window on every gated response.
func setRateLimitHeaders(w http.ResponseWriter, res *ratelimit.Result, now time.Time) {
	if res == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if wait := res.RetryAfter(now); wait > 0 {
		secs := int((wait + time.Second - 1) / time.Second)
		h.Set("Retry-After", strconv.Itoa(secs))
	}
}

// admit runs op and writes the refusal when the caller may not proceed.
// The returned bool reports whether the handler should continue.
func admit(w http.ResponseWriter, r *http.Request, a Admitter, op admission.Operation, log *zap.Logger) (admission.Outcome, bool) {
	out, err := a.Admit(r.Context(), r, op)
	if err != nil {
		log.Error("admission_failed",
			zap.String("operation", op.Action.Name),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Unable to authorize request")
		return out, false
	}
	setRateLimitHeaders(w, out.RateLimit, time.Now())
	if !out.Allowed {
		respondDenial(w, out)
		return out, false
	}
	return out, true
}
