// Package httpapi provides the HTTP transport adapter for the
// governance kernel's evaluation and registry-management surface
// (spec §6), grounded on the donor's admin.AdminAPIHandler: a single
// handler struct holding every wired service, constructed via
// functional options, routed through a Go 1.22+ method-pattern
// http.ServeMux, with the same respondJSON/respondError/readJSON/
// pathParam helper shape.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/service"
)

// Handler holds every service the HTTP surface dispatches into.
type Handler struct {
	engine       policy.Engine
	registry     policy.Registry
	orchestrator *service.UpdateOrchestratorService
	cache        *service.CacheService
	evaluations  *service.EvaluationService
	logger       *slog.Logger
	startTime    time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithEngine wires the evaluation engine behind /policies/evaluate and /policies/check.
func WithEngine(e policy.Engine) Option { return func(h *Handler) { h.engine = e } }

// WithRegistry wires the registry behind the /policies CRUD endpoints.
func WithRegistry(r policy.Registry) Option { return func(h *Handler) { h.registry = r } }

// WithOrchestrator wires the update orchestrator behind POST/enable/disable.
func WithOrchestrator(o *service.UpdateOrchestratorService) Option {
	return func(h *Handler) { h.orchestrator = o }
}

// WithCache wires the decision cache for the stats endpoint.
func WithCache(c *service.CacheService) Option { return func(h *Handler) { h.cache = c } }

// WithEvaluationService wires the concrete EvaluationService so the
// evaluation-status poll endpoint can look up past results by request id.
func WithEvaluationService(e *service.EvaluationService) Option {
	return func(h *Handler) { h.evaluations = e }
}

// NewHandler constructs a Handler from options.
func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{logger: logger, startTime: time.Now().UTC()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with every spec §6 + §6.A endpoint
// registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealthz)

	mux.HandleFunc("POST /policies/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /policies/check", h.handleCheck)

	mux.HandleFunc("GET /policies", h.handleListPolicies)
	mux.HandleFunc("GET /policies/stats", h.handleStats)
	mux.HandleFunc("GET /policies/precedence/{class}", h.handleListByPrecedence)
	mux.HandleFunc("GET /policies/evaluations/{requestId}", h.handleEvaluationStatus)
	mux.HandleFunc("GET /policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("POST /policies", h.handleRegisterPolicy)
	mux.HandleFunc("PUT /policies/{id}/enable", h.handleEnablePolicy)
	mux.HandleFunc("PUT /policies/{id}/disable", h.handleDisablePolicy)

	return mux
}

// --- JSON helper methods, grounded on the donor's api_handler.go ---

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// statusForError maps the domain error taxonomy (spec §7) to an HTTP
// status: ValidationError/NotFoundError surface directly to the
// caller; everything else is a logged 5xx.
func statusForError(err error) int {
	var ve policy.ValidationErrors
	var ve2 *policy.ValidationError
	var nfe *policy.NotFoundError
	switch {
	case errors.As(err, &ve), errors.As(err, &ve2), errors.Is(err, policy.ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &nfe), errors.Is(err, policy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
