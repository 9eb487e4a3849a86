package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/google/uuid"
)

func TestGetQuota(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		profile       models.CallerProfile
		wantRemaining any
		wantLimit     any
		wantUnlimited bool
	}{
		{"free tier", models.CallerProfile{ID: uuid.New(), UsageThisPeriod: 3}, float64(2), float64(5), false},
		{"exhausted", models.CallerProfile{ID: uuid.New(), UsageThisPeriod: 9}, float64(0), float64(5), false},
		{"subscriber", models.CallerProfile{ID: uuid.New(), SubscriptionActive: true, UsageThisPeriod: 40}, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			adm := &fakeAdmitter{outcome: allowedOutcome(tt.profile), freeLimit: 5}
			w := httptest.NewRecorder()
			NewQuotaHandler(adm, nil).GetQuota(w, newTestRequest("GET", "/api/v1/quota", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			if ops := adm.calls(); len(ops) != 1 || ops[0].Class != ratelimit.ClassAPI || ops[0].Metered {
				t.Errorf("Unexpected operation: %+v", ops)
			}
			data, _ := decodeBody(t, w)["data"].(map[string]any)
			if data["remaining"] != tt.wantRemaining || data["limit"] != tt.wantLimit {
				t.Errorf("remaining/limit = %v/%v, want %v/%v", data["remaining"], data["limit"], tt.wantRemaining, tt.wantLimit)
			}
			if data["is_unlimited"] != tt.wantUnlimited {
				t.Errorf("is_unlimited = %v, want %v", data["is_unlimited"], tt.wantUnlimited)
			}
			if data["usage_this_period"] != float64(tt.profile.UsageThisPeriod) {
				t.Errorf("usage_this_period = %v", data["usage_this_period"])
			}
		})
	}
}

func TestCheckoutAndMe(t *testing.T) {
	t.Parallel()

	profile := models.CallerProfile{ID: uuid.New(), ProviderID: "auth0|abc"}

	adm := &fakeAdmitter{outcome: allowedOutcome(profile)}
	w := httptest.NewRecorder()
	NewCheckoutHandler(adm, nil).StartCheckout(w, newTestRequest("POST", "/api/v1/checkout", nil))
	if w.Code != http.StatusAccepted {
		t.Errorf("checkout: expected 202, got %d", w.Code)
	}
	if ops := adm.calls(); len(ops) != 1 || ops[0].Class != ratelimit.ClassCheckout {
		t.Errorf("checkout: unexpected operation %+v", ops)
	}

	adm = &fakeAdmitter{outcome: allowedOutcome(profile)}
	w = httptest.NewRecorder()
	NewMeHandler(adm, nil).GetMe(w, newTestRequest("GET", "/api/v1/me", nil))
	if w.Code != http.StatusOK {
		t.Errorf("me: expected 200, got %d", w.Code)
	}
	if ops := adm.calls(); len(ops) != 1 || ops[0].Class != ratelimit.ClassAuth {
		t.Errorf("me: unexpected operation %+v", ops)
	}
	data, _ := decodeBody(t, w)["data"].(map[string]any)
	identity, _ := data["identity"].(map[string]any)
	if identity["sub"] != "auth0|abc" {
		t.Errorf("me: identity = %v", identity)
	}

	adm = &fakeAdmitter{outcome: allowedOutcome(profile)}
	adm.outcome.Allowed = false
	adm.outcome.Reason = models.ReasonSuspended
	w = httptest.NewRecorder()
	NewCheckoutHandler(adm, nil).StartCheckout(w, newTestRequest("POST", "/api/v1/checkout", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("suspended checkout: expected 403, got %d", w.Code)
	}
}
