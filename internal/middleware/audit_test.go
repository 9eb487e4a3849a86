package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAudit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantEvent string
	}{
		{"ok not logged", http.StatusOK, ""},
		{"bad request not logged", http.StatusBadRequest, ""},
		{"unauthorized", http.StatusUnauthorized, "security_event"},
		{"forbidden", http.StatusForbidden, "security_event"},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_violation"},
		{"quota", http.StatusPaymentRequired, "quota_exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest("POST", "/api/v1/renders", nil)
			req.RemoteAddr = "10.0.0.9:5555"
			Audit(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantEvent == "" {
				if logs.Len() != 0 {
					t.Errorf("Expected no audit log, got %d", logs.Len())
				}
				return
			}
			entries := logs.FilterMessage(tt.wantEvent).All()
			if len(entries) != 1 {
				t.Fatalf("Expected 1 %s log, got %d", tt.wantEvent, len(entries))
			}
			if ip := entries[0].ContextMap()["ip"]; ip != "10.0.0.9" {
				t.Errorf("Expected ip 10.0.0.9, got %v", ip)
			}
		})
	}
}
