// Package kernel assembles the governance kernel's services, ports,
// and adapters into a single process-wide value (SPEC_FULL.md §9
// Design Note: "process-wide singletons become an explicit Kernel
// value owned by the host binary, not package-level state").
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/governed-io/governed/internal/adapter/outbound/audit"
	outboundmemory "github.com/governed-io/governed/internal/adapter/outbound/memory"
	"github.com/governed-io/governed/internal/adapter/outbound/metrics"
	"github.com/governed-io/governed/internal/adapter/outbound/sqlite"
	"github.com/governed-io/governed/internal/adapter/outbound/tracing"
	"github.com/governed-io/governed/internal/config"
	domainaudit "github.com/governed-io/governed/internal/domain/audit"
	"github.com/governed-io/governed/internal/domain/changeevent"
	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/service"
)

// changeEventTypeToComplianceType maps a lifecycle event's Type to the
// compliance event-type constants audit records are classified under.
func changeEventTypeToComplianceType(t changeevent.Type) string {
	switch t {
	case changeevent.TypeCreated:
		return domainaudit.EventTypePolicyCreated
	case changeevent.TypeUpdated:
		return domainaudit.EventTypePolicyUpdated
	case changeevent.TypeDeleted:
		return domainaudit.EventTypePolicyDeleted
	case changeevent.TypeEnabled:
		return domainaudit.EventTypePolicyEnabled
	case changeevent.TypeDisabled:
		return domainaudit.EventTypePolicyDisabled
	default:
		return string(t)
	}
}

// Kernel holds every wired service the HTTP and CLI hosts dispatch
// into, plus the teardown hooks accumulated while building it.
type Kernel struct {
	Registry     *service.RegistryService
	Cache        *service.CacheService
	Evaluation   *service.EvaluationService
	ChangeStream *service.ChangeStreamService
	Orchestrator *service.UpdateOrchestratorService
	Push         *service.PushService
	Templates    *service.TemplateService
	Audit        *service.AuditService
	Metrics      *metrics.PrometheusSink
	Registerer   prometheus.Registerer

	logger    *slog.Logger
	closers   []func(context.Context) error
	startedAt time.Time
}

// New builds a Kernel from cfg. Cfg must already have SetDefaults (and,
// if applicable, SetDevDefaults) applied; New does not mutate it.
func New(ctx context.Context, cfg *config.KernelConfig, logger *slog.Logger) (*Kernel, error) {
	k := &Kernel{logger: logger, startedAt: time.Now().UTC()}

	reg := prometheus.NewRegistry()
	k.Registerer = reg
	k.Metrics = metrics.NewPrometheusSink(reg)

	if cfg.Telemetry.TracingEnabled || cfg.Telemetry.MetricsEnabled {
		// StdoutExporter gates which collector the SDK talks to. The
		// kernel only ships the stdout exporters (no OTLP collector
		// dependency), so when an operator asks for telemetry without
		// StdoutExporter we log and skip rather than silently wiring
		// an exporter that doesn't exist.
		if cfg.Telemetry.StdoutExporter {
			shutdown, err := tracing.Initialize(ctx, tracing.Config{
				TracingEnabled: cfg.Telemetry.TracingEnabled,
				MetricsEnabled: cfg.Telemetry.MetricsEnabled,
				ServiceName:    "governed",
			}, os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("initializing otel: %w", err)
			}
			k.closers = append(k.closers, shutdown)
		} else {
			logger.Warn("telemetry enabled but no exporter configured; tracing/metrics providers left as otel no-ops", "stdout_exporter", false)
		}
	}

	auditStore, auditCloser, err := buildAuditStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building audit store: %w", err)
	}
	if auditCloser != nil {
		k.closers = append(k.closers, auditCloser)
	}

	flushInterval, err := parseDurationOr(cfg.Audit.FlushInterval, time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing audit.flush_interval: %w", err)
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	sendTimeout, err := parseDurationOr(cfg.Audit.SendTimeout, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("parsing audit.send_timeout: %w", err)
	}

	auditSvc := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(nonZero(cfg.Audit.ChannelSize, 1000)),
		service.WithBatchSize(nonZero(cfg.Audit.BatchSize, 100)),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditSvc.Start(ctx)
	k.Audit = auditSvc
	k.closers = append(k.closers, func(context.Context) error { auditSvc.Stop(); return nil })

	cacheTTL, err := parseDurationOr(cfg.Cache.TTL, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing cache.ttl: %w", err)
	}
	k.Cache = service.NewCacheService(nonZero(cfg.Cache.MaxEntries, 10000), cacheTTL, cfg.Server.NodeID)

	sweepInterval, err := parseDurationOr(cfg.Cache.SweepInterval, 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing cache.sweep_interval: %w", err)
	}
	k.Cache.StartSweeper(ctx, sweepInterval)
	k.closers = append(k.closers, func(context.Context) error { k.Cache.StopSweeper(); return nil })

	k.ChangeStream = service.NewChangeStreamService(nonZero(cfg.ChangeStream.SubscriberQueueSize, 64), logger)

	var eventStore *sqlite.EventStore
	if cfg.EventStore.Enabled {
		path := cfg.EventStore.Path
		if path == "" {
			path = "governed-events.db"
		}
		eventStore, err = sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening event store: %w", err)
		}
		k.closers = append(k.closers, func(context.Context) error { return eventStore.Close() })
		unsubscribe := k.ChangeStream.Subscribe(ctx, eventStorePersister(eventStore, logger))
		k.closers = append(k.closers, func(context.Context) error { unsubscribe(); return nil })
	}

	k.Registry = service.NewRegistryService(logger,
		service.WithMetricsSink(k.Metrics),
		service.WithChangeStreamPublisher(k.ChangeStream),
		service.WithCacheInvalidator(k.Cache),
	)

	evalTimeout, err := parseDurationOr(cfg.Evaluation.Timeout, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("parsing evaluation.timeout: %w", err)
	}
	k.Evaluation = service.NewEvaluationService(k.Registry, k.Cache, logger,
		service.WithEvaluationTimeout(evalTimeout),
		service.WithAuditStore(auditSvc),
		service.WithEvaluationMetricsSink(k.Metrics),
	)

	k.Orchestrator = service.NewUpdateOrchestratorService(k.Registry, logger)
	k.Templates = service.NewTemplateService(k.Orchestrator)

	pushWindow, err := parseDurationOr(cfg.ChangeStream.PushHeartbeatWindow, 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing change_stream.push_heartbeat_window: %w", err)
	}
	k.Push = service.NewPushService(pushWindow, logger)
	k.Push.Start(ctx, k.ChangeStream)
	k.closers = append(k.closers, func(context.Context) error { k.Push.Stop(); return nil })

	if err := seedPolicies(ctx, k.Orchestrator, cfg.Policies); err != nil {
		return nil, fmt.Errorf("seeding policies: %w", err)
	}

	return k, nil
}

// Close tears down every background goroutine and held resource the
// kernel started, most-recently-added first.
func (k *Kernel) Close(ctx context.Context) error {
	var firstErr error
	for i := len(k.closers) - 1; i >= 0; i-- {
		if err := k.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildAuditStore(cfg *config.KernelConfig, logger *slog.Logger) (domainaudit.AuditStore, func(context.Context) error, error) {
	switch {
	case cfg.Audit.Output == "memory":
		return outboundmemory.NewAuditStore(nonZero(cfg.Audit.BufferSize, 1000)), nil, nil
	case cfg.Audit.Output == "stdout" || cfg.Audit.Output == "":
		return outboundmemory.NewAuditStoreWithWriter(os.Stdout, nonZero(cfg.Audit.BufferSize, 1000)), nil, nil
	case len(cfg.Audit.Output) > len("file://") && cfg.Audit.Output[:len("file://")] == "file://":
		dir := cfg.AuditFile.Dir
		if dir == "" {
			dir = cfg.Audit.Output[len("file://"):]
		}
		store, err := audit.NewFileAuditStore(audit.AuditFileConfig{
			Dir:           dir,
			RetentionDays: nonZero(cfg.AuditFile.RetentionDays, 7),
			MaxFileSizeMB: nonZero(cfg.AuditFile.MaxFileSizeMB, 100),
			CacheSize:     nonZero(cfg.AuditFile.CacheSize, 1000),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit output %q", cfg.Audit.Output)
	}
}

// eventStorePersister converts a change-event into a compliance
// record and appends it to the sqlite event store, swallowing
// persistence errors with a log since the registry mutation that
// produced the event has already committed.
func eventStorePersister(store *sqlite.EventStore, logger *slog.Logger) func(context.Context, changeevent.Event) {
	return func(ctx context.Context, evt changeevent.Event) {
		var policyName string
		if evt.Policy != nil {
			policyName = evt.Policy.Name
		}
		rec := sqlite.RecordFromChangeEvent(
			changeEventTypeToComplianceType(evt.Type),
			evt.PolicyID, policyName, evt.Policy, evt.Timestamp,
		)
		if err := store.Append(ctx, rec); err != nil {
			logger.Warn("compliance event persistence failed", "error", err, "policy_id", evt.PolicyID)
		}
	}
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func seedPolicies(ctx context.Context, orchestrator *service.UpdateOrchestratorService, seeds []config.PolicySeed) error {
	for _, seed := range seeds {
		m, err := seedToManifest(seed)
		if err != nil {
			return fmt.Errorf("policy %q: %w", seed.ID, err)
		}
		if _, err := orchestrator.CreatePolicy(ctx, m); err != nil {
			return fmt.Errorf("registering seed policy %q: %w", seed.ID, err)
		}
	}
	return nil
}

func seedToManifest(seed config.PolicySeed) (policy.Manifest, error) {
	precedence, err := policy.ParsePrecedence(seed.Precedence)
	if err != nil {
		return policy.Manifest{}, err
	}

	status := policy.StatusActive
	if seed.Status == "disabled" {
		status = policy.StatusDisabled
	}

	mode := policy.ModeEnforce
	switch seed.EnforcementMode {
	case "warn":
		mode = policy.ModeWarn
	case "monitor":
		mode = policy.ModeMonitor
	}

	rules := make([]policy.Rule, 0, len(seed.Rules))
	for _, rs := range seed.Rules {
		conditions := make([]policy.Condition, 0, len(rs.Conditions))
		for _, cs := range rs.Conditions {
			conditions = append(conditions, policy.Condition{
				Field:    cs.Field,
				Operator: cs.Operator,
				Value:    cs.Value,
			})
		}
		effect := policy.EffectAllow
		if rs.Effect == "deny" {
			effect = policy.EffectDeny
		}
		rules = append(rules, policy.Rule{
			ID:          rs.ID,
			Description: rs.Description,
			Conditions:  conditions,
			Effect:      effect,
		})
	}

	return policy.Manifest{
		ID:              seed.ID,
		Name:            seed.Name,
		Version:         seed.Version,
		Description:     seed.Description,
		Precedence:      precedence,
		Status:          status,
		EnforcementMode: mode,
		Scope: policy.Scope{
			Orchestras: seed.Scope.Orchestras,
			Tenants:    seed.Scope.Tenants,
			Roles:      seed.Scope.Roles,
			Actions:    seed.Scope.Actions,
			Resources:  seed.Scope.Resources,
		},
		Rules:    rules,
		Metadata: seed.Metadata,
	}, nil
}
