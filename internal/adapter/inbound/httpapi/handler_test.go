package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler() *Handler {
	cache := service.NewCacheService(100, time.Minute, "node-1")
	registry := service.NewRegistryService(discardLogger(), service.WithCacheInvalidator(cache))
	eval := service.NewEvaluationService(registry, cache, discardLogger())
	orchestrator := service.NewUpdateOrchestratorService(registry, discardLogger())

	return NewHandler(discardLogger(),
		WithEngine(eval),
		WithRegistry(registry),
		WithOrchestrator(orchestrator),
		WithCache(cache),
		WithEvaluationService(eval),
	)
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Healthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	rec := doJSON(t, h.Routes(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func samplePolicy(id string) policy.Manifest {
	return policy.Manifest{
		ID: id, Name: id, Version: "1.0.0",
		Precedence: policy.Internal, Status: policy.StatusActive, EnforcementMode: policy.ModeEnforce,
		Rules: []policy.Rule{
			{ID: "r1", Effect: policy.EffectAllow, Conditions: []policy.Condition{
				{Field: "action", Operator: "eq", Value: "read"},
			}},
		},
	}
}

func TestHandler_RegisterPolicyThenGet(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	mux := h.Routes()

	rec := doJSON(t, mux, http.MethodPost, "/policies", samplePolicy("p1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var registerResp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &registerResp); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	if registerResp.Hash == "" {
		t.Error("expected a non-empty hash")
	}

	rec = doJSON(t, mux, http.MethodGet, "/policies/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RegisterPolicyRejectsInvalidManifest(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	rec := doJSON(t, h.Routes(), http.MethodPost, "/policies", policy.Manifest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_GetPolicyNotFound(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	rec := doJSON(t, h.Routes(), http.MethodGet, "/policies/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_EvaluateReturnsDecision(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	mux := h.Routes()

	if rec := doJSON(t, mux, http.MethodPost, "/policies", samplePolicy("p1")); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", rec.Code)
	}

	req := policy.EvaluationRequest{Action: "read"}
	rec := doJSON(t, mux, http.MethodPost, "/policies/evaluate", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var result policy.EvaluationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding evaluation result: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected the request to be allowed, got %+v", result)
	}
}

func TestHandler_CheckReturnsBooleanOnly(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	mux := h.Routes()
	doJSON(t, mux, http.MethodPost, "/policies", samplePolicy("p1"))

	rec := doJSON(t, mux, http.MethodPost, "/policies/check", policy.EvaluationRequest{Action: "read"})
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding check response: %v", err)
	}
	if !resp.Allowed {
		t.Error("expected allowed=true")
	}
}

func TestHandler_EnableDisablePolicy(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	mux := h.Routes()
	doJSON(t, mux, http.MethodPost, "/policies", samplePolicy("p1"))

	rec := doJSON(t, mux, http.MethodPut, "/policies/p1/disable?reason=maintenance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPut, "/policies/p1/enable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_ListByPrecedenceRejectsUnknownClass(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	rec := doJSON(t, h.Routes(), http.MethodGet, "/policies/precedence/bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_StatsIncludesCacheCounters(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	mux := h.Routes()
	doJSON(t, mux, http.MethodPost, "/policies", samplePolicy("p1"))
	doJSON(t, mux, http.MethodPost, "/policies/evaluate", policy.EvaluationRequest{Action: "read"})

	rec := doJSON(t, mux, http.MethodGet, "/policies/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding stats response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("Total = %d, want 1", resp.Total)
	}
	if resp.Cache == nil {
		t.Error("expected cache counters to be present")
	}
}

func TestHandler_EvaluationStatusNotFoundForUnknownRequestID(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	rec := doJSON(t, h.Routes(), http.MethodGet, "/policies/evaluations/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStatusForError_MapsDomainErrorTaxonomy(t *testing.T) {
	t.Parallel()
	if got := statusForError(&policy.NotFoundError{Kind: "policy", ID: "p1"}); got != http.StatusNotFound {
		t.Errorf("NotFoundError -> %d, want 404", got)
	}
	if got := statusForError(&policy.ValidationError{Field: "id", Reason: "required"}); got != http.StatusBadRequest {
		t.Errorf("ValidationError -> %d, want 400", got)
	}
	if got := statusForError(policy.ErrTimeout); got != http.StatusGatewayTimeout {
		t.Errorf("ErrTimeout -> %d, want 504", got)
	}
}
