package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/governed-io/governed/internal/domain/audit"
	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/domain/sink"
)

// EvaluationRecord is a stored evaluation for status polling, bounded
// FIFO, adapted from the donor's PolicyEvaluationService.
type EvaluationRecord struct {
	RequestID string
	Request   policy.EvaluationRequest
	Result    policy.EvaluationResult
	CreatedAt time.Time
}

// EvaluationService is the governance kernel's Policy Decision Point:
// cache lookup → registry scope narrowing → rule/condition evaluation
// → precedence resolution → telemetry/audit emission.
type EvaluationService struct {
	registry policy.Registry
	cache    *CacheService
	metrics  sink.MetricsSink
	auditLog audit.AuditStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	logger   *slog.Logger
	timeout  time.Duration

	mu          sync.RWMutex
	evaluations map[string]*EvaluationRecord
	evalOrder   []string
	maxEvals    int
}

// EvaluationServiceOption configures an EvaluationService.
type EvaluationServiceOption func(*EvaluationService)

// WithEvaluationTimeout overrides the default 100ms per-request budget.
func WithEvaluationTimeout(d time.Duration) EvaluationServiceOption {
	return func(s *EvaluationService) { s.timeout = d }
}

// WithAuditStore wires an audit sink; defaults to a no-op.
func WithAuditStore(a audit.AuditStore) EvaluationServiceOption {
	return func(s *EvaluationService) { s.auditLog = a }
}

// WithEvaluationMetricsSink overrides the default no-op metrics sink.
func WithEvaluationMetricsSink(m sink.MetricsSink) EvaluationServiceOption {
	return func(s *EvaluationService) { s.metrics = m }
}

// NewEvaluationService wires a registry and cache into a PDP.
func NewEvaluationService(registry policy.Registry, cache *CacheService, logger *slog.Logger, opts ...EvaluationServiceOption) *EvaluationService {
	meter := otel.Meter("governed/evaluation")
	duration, err := meter.Float64Histogram(
		"governed.evaluation.duration",
		metric.WithDescription("Policy evaluation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		// Meter construction failing means the global MeterProvider is
		// misconfigured; fall back to a no-op instrument rather than a
		// nil one so recordings below stay a no-op instead of a panic.
		duration = noop.Float64Histogram{}
	}

	s := &EvaluationService{
		registry:    registry,
		cache:       cache,
		metrics:     sink.NoopMetrics{},
		auditLog:    noopAuditStore{},
		tracer:      otel.Tracer("governed/evaluation"),
		duration:    duration,
		logger:      logger,
		timeout:     100 * time.Millisecond,
		evaluations: make(map[string]*EvaluationRecord),
		evalOrder:   make([]string, 0, 1000),
		maxEvals:    1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the full pipeline of spec §4.5. Steps 2-5 are pure
// given the registry snapshot taken at step 2; emissions in step 6 are
// side effects that never change the returned value.
func (s *EvaluationService) Evaluate(ctx context.Context, req policy.EvaluationRequest) (policy.EvaluationResult, error) {
	requestID := uuid.New().String()
	start := time.Now()

	spanCtx, span := s.tracer.Start(ctx, "kernel.policy.evaluate",
		trace.WithAttributes(
			attribute.String("action", req.Action),
			attribute.String("orchestra", req.Orchestra),
		))
	defer span.End()

	if cached, ok := s.cache.Get(CacheKey(req)); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	deadlineCtx, cancel := context.WithTimeout(spanCtx, s.timeout)
	defer cancel()

	result, precedence, err := s.evaluateUncached(deadlineCtx, req)
	durationSeconds := time.Since(start).Seconds()
	result.Metadata.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordEvaluation("error", req.Orchestra, precedence, durationSeconds, result.Metadata.PoliciesChecked)
		s.duration.Record(ctx, durationSeconds, metric.WithAttributes(attribute.String("result", "error")))
		s.recordAudit(ctx, requestID, req, result, time.Since(start))
		return result, err
	}

	if !result.Allowed {
		s.metrics.RecordViolation(req.Orchestra, req.Action, precedence)
	}
	if result.Metadata.ConflictsResolved > 0 {
		s.metrics.RecordConflict(precedence)
	}
	resultLabel := "allow"
	if !result.Allowed {
		resultLabel = "deny"
	}
	s.metrics.RecordEvaluation(resultLabel, req.Orchestra, precedence, durationSeconds, result.Metadata.PoliciesChecked)
	s.duration.Record(ctx, durationSeconds, metric.WithAttributes(attribute.String("result", resultLabel)))

	s.cache.Set(CacheKey(req), result)
	s.storeEvaluation(requestID, req, result)
	s.recordAudit(ctx, requestID, req, result, time.Since(start))

	span.SetAttributes(attribute.Bool("allowed", result.Allowed))
	return result, nil
}

// IsAllowed is a convenience wrapper returning result.Allowed.
func (s *EvaluationService) IsAllowed(ctx context.Context, req policy.EvaluationRequest) (bool, error) {
	result, err := s.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// evaluateUncached implements spec §4.5 steps 2-5. It returns the
// winning precedence label (for metrics) alongside the result.
func (s *EvaluationService) evaluateUncached(ctx context.Context, req policy.EvaluationRequest) (policy.EvaluationResult, string, error) {
	candidates, err := s.registry.ListByScope(ctx, req)
	if err != nil {
		return policy.EvaluationResult{}, "", fmt.Errorf("listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return policy.EvaluationResult{
			Allowed: true,
			Reason:  "no applicable policies",
			Metadata: policy.EvaluationMetadata{
				PoliciesChecked: 0,
			},
		}, "", nil
	}

	var matched []policy.MatchedPolicy
	var evaluatedIDs []string
	for _, entry := range candidates {
		select {
		case <-ctx.Done():
			return policy.EvaluationResult{
				Allowed: false,
				Reason:  "timeout",
				Metadata: policy.EvaluationMetadata{
					PoliciesChecked: len(evaluatedIDs),
				},
			}, "", fmt.Errorf("%w", policy.ErrTimeout)
		default:
		}

		evaluatedIDs = append(evaluatedIDs, entry.Manifest.ID)
		for _, rule := range entry.Manifest.Rules {
			if rule.Matches(req) {
				matched = append(matched, policy.MatchedPolicy{
					Manifest: entry.Manifest,
					Effect:   effectFor(entry.Manifest, rule),
					Reason:   fmt.Sprintf("rule %s matched", rule.ID),
				})
				break
			}
		}
	}

	if len(matched) == 0 {
		return policy.EvaluationResult{
			Allowed:           true,
			Reason:            "no rules matched",
			EvaluatedPolicies: evaluatedIDs,
			Metadata:          policy.EvaluationMetadata{PoliciesChecked: len(evaluatedIDs)},
		}, "", nil
	}

	resolved, err := policy.Resolve(matched)
	if err != nil {
		return policy.EvaluationResult{}, "", fmt.Errorf("resolving: %w", err)
	}

	winner := resolved.Winner.Manifest
	result := policy.EvaluationResult{
		Allowed:           resolved.Winner.Effect == policy.EffectAllow,
		WinningPolicy:     &winner,
		EvaluatedPolicies: evaluatedIDs,
		Reason:            resolved.Winner.Reason,
		Metadata: policy.EvaluationMetadata{
			PoliciesChecked: len(evaluatedIDs),
		},
	}

	if resolved.Conflict != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"conflict at precedence %s among %d policies", resolved.Conflict.WinningPrecedence, len(resolved.Conflict.Contributors)))
		result.Metadata.ConflictsResolved = 1
	}

	return result, winner.Precedence.String(), nil
}

// effectFor applies enforcement mode semantics: only enforce denies;
// warn/monitor always allow but the caller still records them.
func effectFor(m policy.Manifest, r policy.Rule) policy.Effect {
	if r.Effect == policy.EffectDeny && m.EnforcementMode != policy.ModeEnforce {
		return policy.EffectAllow
	}
	return r.Effect
}

// storeEvaluation stores a record with bounded FIFO eviction, adapted
// from the donor's PolicyEvaluationService.storeEvaluation.
func (s *EvaluationService) storeEvaluation(requestID string, req policy.EvaluationRequest, result policy.EvaluationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.evalOrder) >= s.maxEvals {
		oldest := s.evalOrder[0]
		s.evalOrder = s.evalOrder[1:]
		delete(s.evaluations, oldest)
	}
	rec := &EvaluationRecord{RequestID: requestID, Request: req, Result: result, CreatedAt: time.Now()}
	s.evaluations[requestID] = rec
	s.evalOrder = append(s.evalOrder, requestID)
}

// GetEvaluationStatus returns a stored evaluation by request id, or
// nil if not found.
func (s *EvaluationService) GetEvaluationStatus(requestID string) *EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluations[requestID]
}

func (s *EvaluationService) recordAudit(ctx context.Context, requestID string, req policy.EvaluationRequest, result policy.EvaluationResult, latency time.Duration) {
	decision := audit.DecisionAllow
	if !result.Allowed {
		decision = audit.DecisionDeny
	}
	var policyID, ruleID string
	if result.WinningPolicy != nil {
		policyID = result.WinningPolicy.ID
	}
	rec := audit.AuditRecord{
		Timestamp:     time.Now().UTC(),
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		Roles:         req.Roles,
		Action:        req.Action,
		Orchestra:     req.Orchestra,
		Context:       audit.RedactSensitiveArgs(req.Context),
		Decision:      decision,
		Reason:        result.Reason,
		PolicyID:      policyID,
		RuleID:        ruleID,
		Conflict:      result.Metadata.ConflictsResolved > 0,
		RequestID:     requestID,
		LatencyMicros: latency.Microseconds(),
	}
	// EmissionError: audit failures are swallowed with a log, never
	// affecting the decision already returned to the caller.
	if err := s.auditLog.Append(ctx, rec); err != nil {
		s.logger.Warn("audit emission failed", "error", err, "request_id", requestID)
	}
}

// noopAuditStore is the default AuditStore used when the host doesn't
// wire one.
type noopAuditStore struct{}

func (noopAuditStore) Append(context.Context, ...audit.AuditRecord) error { return nil }
func (noopAuditStore) Flush(context.Context) error                       { return nil }
func (noopAuditStore) Close() error                                      { return nil }

// Compile-time interface verification.
var _ policy.Engine = (*EvaluationService)(nil)
