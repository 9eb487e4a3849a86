package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/queue"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/google/uuid"
)

// fakeAdmitter returns a canned outcome and records the operations it saw.
type fakeAdmitter struct {
	mu        sync.Mutex
	outcome   admission.Outcome
	err       error
	freeLimit int
	ops       []admission.Operation
}

func (f *fakeAdmitter) Admit(_ context.Context, _ *http.Request, op admission.Operation) (admission.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.outcome, f.err
}

func (f *fakeAdmitter) FreeLimit() int { return f.freeLimit }

func (f *fakeAdmitter) calls() []admission.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]admission.Operation(nil), f.ops...)
}

func allowedOutcome(profile models.CallerProfile) admission.Outcome {
	return admission.Outcome{
		Allowed:  true,
		Identity: &models.Identity{Subject: profile.ProviderID},
		Profile:  &profile,
	}
}

type fakeUsage struct {
	mu           sync.Mutex
	usage        int
	increments   []uuid.UUID
	ceilings     []int
	refunds      []uuid.UUID
	incrementErr error
}

func (f *fakeUsage) IncrementUsage(_ context.Context, id uuid.UUID, ceiling int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ceilings = append(f.ceilings, ceiling)
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	if ceiling >= 0 && f.usage >= ceiling {
		return 0, models.ErrQuotaExhausted
	}
	f.usage++
	f.increments = append(f.increments, id)
	return f.usage, nil
}

func (f *fakeUsage) RefundUsage(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, id)
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

func (f *fakeQueue) HealthCheck(context.Context) error { return f.err }

type fakeUserAdmin struct {
	banned   map[uuid.UUID]bool
	resets   map[uuid.UUID]time.Time
	missing  bool
	failWith error
}

func newFakeUserAdmin() *fakeUserAdmin {
	return &fakeUserAdmin{banned: map[uuid.UUID]bool{}, resets: map[uuid.UUID]time.Time{}}
}

func (f *fakeUserAdmin) SetBanned(_ context.Context, id uuid.UUID, banned bool) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.banned[id] = banned
	return nil
}

func (f *fakeUserAdmin) ResetUsage(_ context.Context, id uuid.UUID, next time.Time) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.resets[id] = next
	return nil
}

func (f *fakeUserAdmin) fail() error {
	if f.missing {
		return models.ErrNotFound
	}
	return f.failWith
}

var errBoom = errors.New("boom")

type fakeAuditSink struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func (f *fakeAuditSink) Record(_ context.Context, rec models.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAuditSink) all() []models.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AuditRecord(nil), f.records...)
}

// newTestRequest builds a request with body encoded as JSON.
func newTestRequest(method, path string, body any) *http.Request {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	} else {
		bodyReader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return r
}

// decodeBody decodes the response envelope.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}
