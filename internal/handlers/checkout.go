package handlers

import (
	"net/http"

	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CheckoutHandler throttles subscription checkout attempts. Payment itself
// is handled by the external provider.
type CheckoutHandler struct {
	admitter Admitter
	log      *zap.Logger
}

// NewCheckoutHandler creates a checkout handler
func NewCheckoutHandler(admitter Admitter, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{admitter: admitter, log: log}
}

// RegisterRoutes registers checkout routes on the given router
func (h *CheckoutHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.StartCheckout).Methods("POST")
}

// StartCheckout admits a checkout attempt under the checkout class.
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	op := admission.Operation{
		Action: gate.Action{Name: "checkout.start", TargetType: "subscription"},
		Class:  ratelimit.ClassCheckout,
	}
	out, ok := admit(w, r, h.admitter, op, h.log)
	if !ok {
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":       "pending",
		"rate_limit":   newGateResponse(out),
		"subscription": out.Profile.SubscriptionActive,
	})
}
