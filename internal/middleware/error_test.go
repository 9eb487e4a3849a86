package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler_NoPanic(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	ErrorHandler(zap.NewNop())(handler).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	ErrorHandler(zap.New(core))(handler).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Success || body.Path != "/test" || body.Message == "test panic" {
		t.Errorf("Unexpected error body: %+v", body)
	}
	if logs.FilterMessage("panic_recovered").Len() != 1 {
		t.Error("Expected panic to be logged")
	}
}

func TestErrorHandler_CarriesRequestID(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("render params exploded")
	})
	chain := ErrorHandler(zap.NewNop())(Logging(zap.NewNop())(handler))

	req := httptest.NewRequest("POST", "/api/v1/renders", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Error != "internal_error" {
		t.Errorf("error = %q, want internal_error", body.Error)
	}
	if body.RequestID != "req-42" {
		t.Errorf("request_id = %q, want req-42", body.RequestID)
	}
}
