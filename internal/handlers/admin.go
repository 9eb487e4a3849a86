package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/benvon/render-gate/internal/database"
	"github.com/benvon/render-gate/internal/gate"
	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Audited admin action names.
const (
	ActionAdminSuspend    = "admin.user.suspend"
	ActionAdminUnsuspend  = "admin.user.unsuspend"
	ActionAdminResetUsage = "admin.user.reset_usage"
)

// UserAdmin applies administrative changes to user profiles.
type UserAdmin interface {
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
	ResetUsage(ctx context.Context, id uuid.UUID, nextReset time.Time) error
}

// AdminHandler exposes privileged user management. Every route requires an
// administrator. The gate audits each admitted call; when the change itself
// then fails, a follow-up record carrying the outcome goes to the audit sink.
type AdminHandler struct {
	admitter Admitter
	users    UserAdmin
	audit    gate.AuditSink
	log      *zap.Logger
	now      func() time.Time
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(admitter Admitter, users UserAdmin, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{admitter: admitter, users: users, log: log, now: time.Now}
}

// WithAudit sets the sink that receives failed-action records.
func (h *AdminHandler) WithAudit(sink gate.AuditSink) *AdminHandler {
	h.audit = sink
	return h
}

// RegisterRoutes registers admin routes on the given router
// The router should already have the /admin prefix
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id}/suspend", h.SuspendUser).Methods("POST")
	r.HandleFunc("/users/{id}/unsuspend", h.UnsuspendUser).Methods("POST")
	r.HandleFunc("/users/{id}/usage/reset", h.ResetUsage).Methods("POST")
}

// SuspendUser bans the target user.
func (h *AdminHandler) SuspendUser(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, ActionAdminSuspend, func(ctx context.Context, id uuid.UUID) error {
		return h.users.SetBanned(ctx, id, true)
	})
}

// UnsuspendUser lifts a ban.
func (h *AdminHandler) UnsuspendUser(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, ActionAdminUnsuspend, func(ctx context.Context, id uuid.UUID) error {
		return h.users.SetBanned(ctx, id, false)
	})
}

// ResetUsage zeroes the target user's usage for the current period.
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, ActionAdminResetUsage, func(ctx context.Context, id uuid.UUID) error {
		return h.users.ResetUsage(ctx, id, database.NextPeriodStart(h.now()))
	})
}

func (h *AdminHandler) run(w http.ResponseWriter, r *http.Request, action string, apply func(context.Context, uuid.UUID) error) {
	rawID := mux.Vars(r)["id"]
	targetID, err := uuid.Parse(rawID)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid user id")
		return
	}

	op := admission.Operation{
		Action: gate.Action{
			Name:          action,
			TargetType:    "user",
			TargetID:      targetID.String(),
			RequiresAdmin: true,
		},
		Class: ratelimit.ClassAPI,
	}
	out, ok := admit(w, r, h.admitter, op, h.log)
	if !ok {
		return
	}

	if action == ActionAdminSuspend && out.Profile.ID == targetID {
		h.recordFailure(r.Context(), out, action, targetID, "self_suspend_rejected")
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Administrators cannot suspend themselves")
		return
	}

	if err := apply(r.Context(), targetID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.recordFailure(r.Context(), out, action, targetID, "target_not_found")
			respondJSONError(w, http.StatusNotFound, "Not Found", "User not found")
			return
		}
		h.log.Error("admin_action_failed",
			zap.String("action", action),
			zap.String("target_id", targetID.String()),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		h.recordFailure(r.Context(), out, action, targetID, "store_error")
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update user")
		return
	}

	h.log.Info("admin_action_applied",
		zap.String("action", action),
		zap.String("target_id", targetID.String()),
		zap.String("admin", logpkg.SanitizeUserID(out.Identity.Subject)),
	)
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": targetID,
		"action":  action,
	})
}

// recordFailure appends an "<action>.failed" record so the admitted entry the
// gate wrote is not mistaken for an applied change.
func (h *AdminHandler) recordFailure(ctx context.Context, out admission.Outcome, action string, targetID uuid.UUID, outcome string) {
	if h.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gate.DefaultAuditTimeout)
	defer cancel()

	var subject string
	if out.Identity != nil {
		subject = out.Identity.Subject
	}
	rec := models.AuditRecord{
		ID:         uuid.New(),
		Timestamp:  h.now().UTC(),
		Identity:   subject,
		Action:     action + ".failed",
		TargetType: "user",
		TargetID:   targetID.String(),
		Details:    map[string]any{"outcome": outcome},
	}
	if err := h.audit.Record(ctx, rec); err != nil {
		h.log.Warn("audit_record_failed",
			zap.String("action", rec.Action),
			zap.String("error", logpkg.SanitizeError(err)),
		)
	}
}
