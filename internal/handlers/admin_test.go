package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func adminOutcome() admission.Outcome {
	return allowedOutcome(models.CallerProfile{ID: uuid.New(), ProviderID: "auth0|admin", IsAdmin: true})
}

func serveAdmin(h *AdminHandler, method, path string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.RegisterRoutes(r.PathPrefix("/api/v1/admin").Subrouter())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, newTestRequest(method, path, nil))
	return w
}

func TestAdminHandler_Suspend(t *testing.T) {
	t.Parallel()

	adm := &fakeAdmitter{outcome: adminOutcome()}
	users := newFakeUserAdmin()
	target := uuid.New()

	w := serveAdmin(NewAdminHandler(adm, users, nil), "POST", "/api/v1/admin/users/"+target.String()+"/suspend")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !users.banned[target] {
		t.Error("Expected target to be banned")
	}
	ops := adm.calls()
	if len(ops) != 1 || !ops[0].Action.RequiresAdmin || ops[0].Action.TargetID != target.String() || ops[0].Action.Name != ActionAdminSuspend {
		t.Errorf("Unexpected operation: %+v", ops)
	}
}

func TestAdminHandler_Unsuspend(t *testing.T) {
	t.Parallel()

	users := newFakeUserAdmin()
	target := uuid.New()
	users.banned[target] = true

	w := serveAdmin(NewAdminHandler(&fakeAdmitter{outcome: adminOutcome()}, users, nil), "POST", "/api/v1/admin/users/"+target.String()+"/unsuspend")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if users.banned[target] {
		t.Error("Expected target to be unbanned")
	}
}

func TestAdminHandler_ResetUsage(t *testing.T) {
	t.Parallel()

	users := newFakeUserAdmin()
	target := uuid.New()
	h := NewAdminHandler(&fakeAdmitter{outcome: adminOutcome()}, users, nil)
	h.now = func() time.Time { return time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC) }

	w := serveAdmin(h, "POST", "/api/v1/admin/users/"+target.String()+"/usage/reset")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !users.resets[target].Equal(want) {
		t.Errorf("next reset = %v, want %v", users.resets[target], want)
	}
}

func TestAdminHandler_Errors(t *testing.T) {
	t.Parallel()

	self := adminOutcome()

	tests := []struct {
		name       string
		outcome    admission.Outcome
		users      *fakeUserAdmin
		path       string
		wantStatus int
		wantAdmit  bool
		wantAudit  string
	}{
		{"invalid id", adminOutcome(), newFakeUserAdmin(), "/api/v1/admin/users/not-a-uuid/suspend", http.StatusBadRequest, false, ""},
		{"not admin", admission.Outcome{Reason: models.ReasonForbidden}, newFakeUserAdmin(), "/api/v1/admin/users/" + uuid.NewString() + "/suspend", http.StatusForbidden, true, ""},
		{"suspended admin", admission.Outcome{Reason: models.ReasonSuspended}, newFakeUserAdmin(), "/api/v1/admin/users/" + uuid.NewString() + "/suspend", http.StatusForbidden, true, ""},
		{"self suspend", self, newFakeUserAdmin(), "/api/v1/admin/users/" + self.Profile.ID.String() + "/suspend", http.StatusBadRequest, true, "self_suspend_rejected"},
		{"target missing", adminOutcome(), &fakeUserAdmin{missing: true}, "/api/v1/admin/users/" + uuid.NewString() + "/unsuspend", http.StatusNotFound, true, "target_not_found"},
		{"store failure", adminOutcome(), &fakeUserAdmin{failWith: errBoom}, "/api/v1/admin/users/" + uuid.NewString() + "/usage/reset", http.StatusInternalServerError, true, "store_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			adm := &fakeAdmitter{outcome: tt.outcome}
			sink := &fakeAuditSink{}
			w := serveAdmin(NewAdminHandler(adm, tt.users, nil).WithAudit(sink), "POST", tt.path)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := len(adm.calls()) == 1; got != tt.wantAdmit {
				t.Errorf("admission ran = %v, want %v", got, tt.wantAdmit)
			}

			records := sink.all()
			if tt.wantAudit == "" {
				if len(records) != 0 {
					t.Errorf("Expected no follow-up audit record, got %+v", records)
				}
				return
			}
			if len(records) != 1 {
				t.Fatalf("Expected 1 follow-up audit record, got %d", len(records))
			}
			rec := records[0]
			if !strings.HasSuffix(rec.Action, ".failed") || rec.Details["outcome"] != tt.wantAudit || rec.Identity != "auth0|admin" {
				t.Errorf("Unexpected audit record: %+v", rec)
			}
		})
	}
}

func TestAdminHandler_SuccessWritesNoFailureRecord(t *testing.T) {
	t.Parallel()

	sink := &fakeAuditSink{}
	h := NewAdminHandler(&fakeAdmitter{outcome: adminOutcome()}, newFakeUserAdmin(), nil).WithAudit(sink)

	w := serveAdmin(h, "POST", "/api/v1/admin/users/"+uuid.NewString()+"/suspend")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if n := len(sink.all()); n != 0 {
		t.Errorf("Expected no follow-up audit record, got %d", n)
	}
}
