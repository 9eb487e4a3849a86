package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benvon/render-gate/internal/gate"
	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/queue"
	"github.com/benvon/render-gate/internal/quota"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/benvon/render-gate/internal/validation"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ActionRenderCreate is the audited action name for starting a render.
const ActionRenderCreate = "render.create"

// renderJobTTL bounds how long a queued render may wait for a worker.
const renderJobTTL = 30 * time.Minute

// UsageRecorder meters quota consumption. IncrementUsage must refuse the
// charge with models.ErrQuotaExhausted once usage has reached a non-negative
// ceiling, so concurrent requests cannot overrun a quota.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, id uuid.UUID, ceiling int) (int, error)
	RefundUsage(ctx context.Context, id uuid.UUID) error
}

// RenderHandler accepts render requests and hands them to the render workers.
type RenderHandler struct {
	admitter Admitter
	usage    UsageRecorder
	jobs     queue.JobQueue
	log      *zap.Logger
}

// NewRenderHandler creates a render handler. jobs may be nil when no queue
// is configured, in which case renders are refused with 503.
func NewRenderHandler(admitter Admitter, usage UsageRecorder, jobs queue.JobQueue, log *zap.Logger) *RenderHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RenderHandler{admitter: admitter, usage: usage, jobs: jobs, log: log}
}

// RegisterRoutes registers render routes on the given router
// The router should already have the /renders prefix
func (h *RenderHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.CreateRender).Methods("POST")
}

// CreateRenderRequest represents a create render request
type CreateRenderRequest struct {
	Template string         `json:"template" validate:"required,min=1,max=200"`
	Params   map[string]any `json:"params,omitempty" validate:"max=50"`
}

// CreateRenderResponse is returned when a render is queued.
type CreateRenderResponse struct {
	JobID uuid.UUID `json:"job_id"`
	GateResponse
}

// CreateRender runs admission for the render class with quota metering,
// records the usage and queues the job.
func (h *RenderHandler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	req.Template = validation.SanitizeText(req.Template)
	if err := validation.Validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid field: "+verrs[0].Field())
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	op := admission.Operation{
		Action: gate.Action{
			Name:       ActionRenderCreate,
			TargetType: "render",
			Details:    map[string]any{"template": req.Template},
		},
		Class:   ratelimit.ClassRender,
		Metered: true,
	}
	out, ok := admit(w, r, h.admitter, op, h.log)
	if !ok {
		return
	}

	if h.jobs == nil {
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Rendering is temporarily unavailable")
		return
	}

	ctx := r.Context()
	profile := out.Profile
	ceiling := int(quota.Unbounded)
	if out.Quota != nil && !out.Quota.IsUnlimited {
		ceiling = int(out.Quota.Limit)
	}
	usage, err := h.usage.IncrementUsage(ctx, profile.ID, ceiling)
	if errors.Is(err, models.ErrQuotaExhausted) {
		h.log.Info("usage_ceiling_reached",
			zap.String("profile_id", profile.ID.String()),
			zap.Int("ceiling", ceiling),
		)
		respondDenial(w, exhausted(out))
		return
	}
	if err != nil {
		h.log.Error("usage_increment_failed",
			zap.String("profile_id", profile.ID.String()),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to record usage")
		return
	}

	job := queue.NewJob(queue.JobTypeRender, profile.ID, out.Identity.Subject)
	job.Params["template"] = req.Template
	for k, v := range req.Params {
		job.Params[k] = v
	}
	notAfter := time.Now().Add(renderJobTTL)
	job.NotAfter = &notAfter

	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error("failed_to_enqueue_render_job",
			zap.String("job_id", job.ID.String()),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		if refundErr := h.usage.RefundUsage(context.WithoutCancel(ctx), profile.ID); refundErr != nil {
			h.log.Error("usage_refund_failed",
				zap.String("profile_id", profile.ID.String()),
				zap.String("error", logpkg.SanitizeError(refundErr)),
			)
		}
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Rendering is temporarily unavailable")
		return
	}

	h.log.Info("render_job_enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("profile_id", profile.ID.String()),
	)

	resp := CreateRenderResponse{JobID: job.ID, GateResponse: newGateResponse(out)}
	if out.Quota != nil && !out.Quota.IsUnlimited {
		consumed := quota.Bounded(ceiling - usage)
		resp.Remaining = &consumed
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// exhausted turns an admitted outcome into the quota denial a concurrent
// request earned by consuming the last unit first.
func exhausted(out admission.Outcome) admission.Outcome {
	out.Allowed = false
	out.Reason = models.ReasonQuotaExceeded
	if out.Quota != nil {
		q := *out.Quota
		q.Allowed = false
		q.Remaining = 0
		out.Quota = &q
	}
	return out
}
