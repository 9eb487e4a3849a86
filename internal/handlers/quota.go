package handlers

import (
	"net/http"

	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/quota"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// QuotaHandler reports the caller's monthly render allowance.
type QuotaHandler struct {
	admitter Admitter
	log      *zap.Logger
}

// NewQuotaHandler creates a quota handler
func NewQuotaHandler(admitter Admitter, log *zap.Logger) *QuotaHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuotaHandler{admitter: admitter, log: log}
}

// RegisterRoutes registers quota routes on the given router
func (h *QuotaHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetQuota).Methods("GET")
}

// QuotaResponse is the caller's quota state.
type QuotaResponse struct {
	quota.Decision
	UsageThisPeriod int `json:"usage_this_period"`
}

// GetQuota returns the caller's quota figures. Reading the quota is limited
// by the api class and does not consume quota.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	op := admission.Operation{
		Action: gate.Action{Name: "quota.read", TargetType: "quota"},
		Class:  ratelimit.ClassAPI,
	}
	out, ok := admit(w, r, h.admitter, op, h.log)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, QuotaResponse{
		Decision:        quota.Evaluate(*out.Profile, h.admitter.FreeLimit()),
		UsageThisPeriod: out.Profile.UsageThisPeriod,
	})
}
