package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/governed-io/governed/internal/domain/policy"
)

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvaluate implements POST /policies/evaluate: the full
// EvaluationRequest/EvaluationResult round trip. A decision is
// returned with 200 regardless of allow/deny — only malformed input
// or an internal failure surface as a non-200.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req policy.EvaluationRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	result, err := h.engine.Evaluate(r.Context(), req)
	if err != nil && errors.Is(err, policy.ErrTimeout) {
		h.respondJSON(w, http.StatusOK, result)
		return
	}
	if err != nil {
		h.logger.Error("evaluation failed", "error", err)
		h.respondError(w, statusForError(err), "evaluation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// checkRequest is the slimmed input accepted by /policies/check,
// equivalent to policy.EvaluationRequest but exposed under the
// check-specific field name the spec uses for the lone boolean reply.
type checkRequest = policy.EvaluationRequest

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// handleCheck implements POST /policies/check: same input shape as
// evaluate, but only the boolean decision is returned.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	allowed, err := h.engine.IsAllowed(r.Context(), req)
	if err != nil && !errors.Is(err, policy.ErrTimeout) {
		h.logger.Error("check failed", "error", err)
		h.respondError(w, statusForError(err), "check failed")
		return
	}
	h.respondJSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

// handleListPolicies implements GET /policies: every active policy.
func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.ListActive(r.Context())
	if err != nil {
		h.logger.Error("listing policies failed", "error", err)
		h.respondError(w, statusForError(err), "listing policies failed")
		return
	}
	h.respondJSON(w, http.StatusOK, entries)
}

// handleGetPolicy implements GET /policies/{id}.
func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, entry)
}

type registerResponse struct {
	Hash string `json:"hash"`
}

// handleRegisterPolicy implements POST /policies: create-or-upsert a
// manifest via the update orchestrator, which owns the rollout
// strategy, invalidate-before-publish ordering, and cache coherency.
func (h *Handler) handleRegisterPolicy(w http.ResponseWriter, r *http.Request) {
	var m policy.Manifest
	if err := h.readJSON(r, &m); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed manifest: "+err.Error())
		return
	}

	_, err := h.registry.GetByID(r.Context(), m.ID)
	isUpdate := err == nil

	var hash string
	if isUpdate {
		hash, err = h.orchestrator.UpdatePolicy(r.Context(), m)
	} else {
		hash, err = h.orchestrator.CreatePolicy(r.Context(), m)
	}
	if err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}

	status := http.StatusCreated
	if isUpdate {
		status = http.StatusOK
	}
	h.respondJSON(w, status, registerResponse{Hash: hash})
}

// handleEnablePolicy implements PUT /policies/{id}/enable.
func (h *Handler) handleEnablePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orchestrator.EnablePolicy(r.Context(), id); err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

// handleDisablePolicy implements PUT /policies/{id}/disable?reason=.
func (h *Handler) handleDisablePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reason := r.URL.Query().Get("reason")
	if err := h.orchestrator.DisablePolicy(r.Context(), id, reason); err != nil {
		h.respondError(w, statusForError(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "disabled"})
}

// handleListByPrecedence implements GET /policies/precedence/{class}.
func (h *Handler) handleListByPrecedence(w http.ResponseWriter, r *http.Request) {
	class := r.PathValue("class")
	p, err := policy.ParsePrecedence(class)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "unknown precedence class: "+class)
		return
	}
	entries, err := h.registry.ListByPrecedence(r.Context(), p)
	if err != nil {
		h.logger.Error("listing by precedence failed", "error", err)
		h.respondError(w, statusForError(err), "listing by precedence failed")
		return
	}
	h.respondJSON(w, http.StatusOK, entries)
}

type statsResponse struct {
	Total         int                         `json:"total"`
	ByPrecedence  map[string]int              `json:"byPrecedence"`
	Cache         map[string]interface{}      `json:"cache,omitempty"`
}

// handleStats implements GET /policies/stats, extended per SPEC_FULL
// §6.A to fold in cache hit/miss/eviction counters alongside the base
// spec's per-precedence policy counts.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := h.registry.CountByPrecedence(r.Context())
	byPrecedence := make(map[string]int, len(counts))
	total := 0
	for p, n := range counts {
		byPrecedence[p.String()] = n
		total += n
	}

	resp := statsResponse{Total: total, ByPrecedence: byPrecedence}
	if h.cache != nil {
		s := h.cache.Stats()
		resp.Cache = map[string]interface{}{
			"hits":      s.Hits,
			"misses":    s.Misses,
			"sets":      s.Sets,
			"evictions": s.Evictions,
			"size":      s.Size,
			"hitRate":   s.HitRate,
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

type evaluationStatusResponse struct {
	RequestID string                  `json:"requestId"`
	Request   policy.EvaluationRequest `json:"request"`
	Result    policy.EvaluationResult  `json:"result"`
	CreatedAt time.Time               `json:"createdAt"`
}

// handleEvaluationStatus implements GET /policies/evaluations/{requestId},
// a poll endpoint over the bounded in-memory evaluation log.
func (h *Handler) handleEvaluationStatus(w http.ResponseWriter, r *http.Request) {
	if h.evaluations == nil {
		h.respondError(w, http.StatusNotFound, "evaluation log unavailable")
		return
	}
	requestID := r.PathValue("requestId")
	rec := h.evaluations.GetEvaluationStatus(requestID)
	if rec == nil {
		h.respondError(w, http.StatusNotFound, "no evaluation found for request id "+requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, evaluationStatusResponse{
		RequestID: rec.RequestID,
		Request:   rec.Request,
		Result:    rec.Result,
		CreatedAt: rec.CreatedAt,
	})
}
