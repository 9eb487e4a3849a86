package handlers

import (
	"net/http"

	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MeHandler lets a client confirm its session. It is throttled with the
// auth class since it is the endpoint token probing would target.
type MeHandler struct {
	admitter Admitter
	log      *zap.Logger
}

// NewMeHandler creates a me handler
func NewMeHandler(admitter Admitter, log *zap.Logger) *MeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MeHandler{admitter: admitter, log: log}
}

// RegisterRoutes registers the me route on the given router
func (h *MeHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetMe).Methods("GET")
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	Identity models.Identity      `json:"identity"`
	Profile  models.CallerProfile `json:"profile"`
}

// GetMe returns the caller's identity and profile.
func (h *MeHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	op := admission.Operation{
		Action: gate.Action{Name: "session.check", TargetType: "session"},
		Class:  ratelimit.ClassAuth,
	}
	out, ok := admit(w, r, h.admitter, op, h.log)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, MeResponse{Identity: *out.Identity, Profile: *out.Profile})
}
