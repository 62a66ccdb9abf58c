// Package config provides configuration types for the governance
// kernel.
//
// The schema covers only the kernel's own ambient concerns — server
// listener, decision cache, change propagation, audit persistence, and
// telemetry. It intentionally excludes the donor's MCP-proxy-specific
// sections (upstream dispatch, HTTP gateway, TLS inspection, identity/
// API-key auth, rate limiting): those belong to "HTTP/CLI routing" and
// "orchestration/action dispatch" collaborator subsystems out of scope
// for this kernel.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// KernelConfig is the top-level configuration for the governance
// kernel.
type KernelConfig struct {
	// Server configures the HTTP evaluation/management surface.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Cache configures the decision cache (spec §4.7).
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// ChangeStream configures the pub/sub fan-out and push service
	// (spec §4.8).
	ChangeStream ChangeStreamConfig `yaml:"change_stream" mapstructure:"change_stream"`

	// Evaluation configures the PDP's timeout budget and bounded
	// evaluation-status store (spec §4.5, §5).
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`

	// Audit configures where evaluation audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// AuditFile configures the file-based audit persistence. Only
	// used when Audit.Output is "file://".
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// EventStore configures optional downstream persistence of the
	// change-event stream (spec §1 Non-goals: "optional downstream
	// persistence via events").
	EventStore EventStoreConfig `yaml:"event_store" mapstructure:"event_store"`

	// Telemetry configures the Prometheus and OpenTelemetry adapters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// Policies optionally seeds the registry from file at startup.
	// Optional: when empty, the registry starts empty and policies are
	// registered at runtime via the management surface.
	Policies []PolicySeed `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables development features (stdout telemetry
	// exporters, a default seed policy when none configured).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP evaluation/management surface.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ReadTimeout/WriteTimeout bound the evaluation RPC surface
	// (e.g., "5s"). Defaults to "5s" if not specified.
	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty"`

	// NodeID identifies this process in cache entries and change
	// events (spec §3: cache entry nodeId, change event sourceNodeId).
	// Defaults to the hostname if empty.
	NodeID string `yaml:"node_id" mapstructure:"node_id"`
}

// CacheConfig configures the decision cache (spec §4.7).
type CacheConfig struct {
	// MaxEntries bounds the cache size; the oldest entry by cachedAt
	// is evicted on insert when full. Defaults to 10000.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,min=1"`

	// TTL is how long a cached decision remains valid (e.g., "30s").
	// Defaults to "30s".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty"`

	// SweepInterval is the background sweeper's cadence (e.g., "60s").
	// A performance optimization only; correctness never depends on
	// it since Get expires lazily. Defaults to "60s".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty"`
}

// ChangeStreamConfig configures pub/sub fan-out and the push service.
type ChangeStreamConfig struct {
	// SubscriberQueueSize bounds each subscriber's event queue; a full
	// queue drops its oldest entry rather than blocking the publisher.
	// Defaults to 64.
	SubscriberQueueSize int `yaml:"subscriber_queue_size" mapstructure:"subscriber_queue_size" validate:"omitempty,min=1"`

	// PushHeartbeatWindow is how long a push client may go silent
	// before the watchdog disconnects it (e.g., "60s"). Disconnect
	// threshold is >= 2x the heartbeat interval per spec §5. Defaults
	// to "60s".
	PushHeartbeatWindow string `yaml:"push_heartbeat_window" mapstructure:"push_heartbeat_window" validate:"omitempty"`
}

// EvaluationConfig configures the PDP pipeline.
type EvaluationConfig struct {
	// Timeout bounds a single evaluation's steps 2-5 (e.g., "100ms").
	// Defaults to "100ms" per spec §5.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// MaxStoredEvaluations is the size of the in-memory
	// evaluation-status store used for async polling by request id.
	// Defaults to 1000. The kernel does not pass this value on: the
	// evaluation service's store always holds at most 1000 entries.
	MaxStoredEvaluations int `yaml:"max_stored_evaluations" mapstructure:"max_stored_evaluations" validate:"omitempty,min=1"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output specifies where audit logs are written.
	// Valid values: "stdout", "memory", or "file:///absolute/path".
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full.
	// "0" = drop immediately. Defaults to "100ms" when empty.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the percentage (0-100) at which to log
	// rate-limited backpressure warnings. 0 disables. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent audit records kept in the
	// in-memory ring buffer for management-surface display. Defaults
	// to 1000 if not specified or 0.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// AuditFileConfig configures the file-based audit persistence.
type AuditFileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// MaxFileSizeMB is the maximum size per audit file in megabytes
	// before rotation. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	// CacheSize is the number of recent audit records to keep in
	// memory (boot ring buffer). Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// EventStoreConfig configures the optional sqlite-backed downstream
// persistence of the change-event stream.
type EventStoreConfig struct {
	// Enabled turns on sqlite-backed event persistence. Defaults to
	// false: the registry is an in-memory authority and persistence
	// is opt-in.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Path is the sqlite database file path. Defaults to
	// "governed-events.db".
	Path string `yaml:"path" mapstructure:"path"`
	// RetentionDays is the change-event row retention in days.
	// Defaults to 30. The kernel runs no purge with it: rows are
	// removed only by calling EventStore.PurgeOlderThan.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=0"`
}

// TelemetryConfig configures the Prometheus and OpenTelemetry
// adapters.
type TelemetryConfig struct {
	// MetricsEnabled turns on the OpenTelemetry meter provider; the
	// Prometheus MetricsSink is wired regardless. Defaults to true.
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	// TracingEnabled turns on the OpenTelemetry tracer provider.
	// Defaults to true.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	// StdoutExporter routes traces/metrics to stdout exporters instead
	// of a collector endpoint — intended for DevMode. Defaults to
	// DevMode's value when unset.
	StdoutExporter bool `yaml:"stdout_exporter" mapstructure:"stdout_exporter"`
}

// PolicySeed is a manifest loaded from configuration at startup and
// registered before the server begins serving evaluation requests.
type PolicySeed struct {
	ID              string            `yaml:"id" mapstructure:"id" validate:"required"`
	Name            string            `yaml:"name" mapstructure:"name" validate:"required"`
	Version         string            `yaml:"version" mapstructure:"version" validate:"required"`
	Description     string            `yaml:"description" mapstructure:"description"`
	Precedence      string            `yaml:"precedence" mapstructure:"precedence" validate:"required,oneof=internal industry legal"`
	Status          string            `yaml:"status" mapstructure:"status" validate:"omitempty,oneof=active disabled"`
	EnforcementMode string            `yaml:"enforcement_mode" mapstructure:"enforcement_mode" validate:"omitempty,oneof=enforce warn monitor"`
	Scope           PolicyScopeSeed   `yaml:"scope" mapstructure:"scope"`
	Rules           []PolicyRuleSeed  `yaml:"rules" mapstructure:"rules" validate:"required,min=1,dive"`
	Metadata        map[string]string `yaml:"metadata" mapstructure:"metadata"`
}

// PolicyScopeSeed mirrors policy.Scope for file-based seeding.
type PolicyScopeSeed struct {
	Orchestras []string `yaml:"orchestras" mapstructure:"orchestras"`
	Tenants    []string `yaml:"tenants" mapstructure:"tenants"`
	Roles      []string `yaml:"roles" mapstructure:"roles"`
	Actions    []string `yaml:"actions" mapstructure:"actions"`
	Resources  []string `yaml:"resources" mapstructure:"resources"`
}

// PolicyRuleSeed mirrors policy.Rule for file-based seeding.
type PolicyRuleSeed struct {
	ID          string                 `yaml:"id" mapstructure:"id" validate:"required"`
	Description string                 `yaml:"description" mapstructure:"description"`
	Conditions  []PolicyConditionSeed  `yaml:"conditions" mapstructure:"conditions"`
	Effect      string                 `yaml:"effect" mapstructure:"effect" validate:"required,oneof=allow deny"`
}

// PolicyConditionSeed mirrors policy.Condition for file-based seeding.
type PolicyConditionSeed struct {
	Field    string      `yaml:"field" mapstructure:"field" validate:"required"`
	Operator string      `yaml:"operator" mapstructure:"operator" validate:"required,oneof=eq ne gt lt gte lte in nin contains regex"`
	Value    interface{} `yaml:"value" mapstructure:"value"`
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied with
// minimal configuration.
func (c *KernelConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if !viper.IsSet("telemetry.stdout_exporter") {
		c.Telemetry.StdoutExporter = true
	}

	// Provide a default catch-all allow policy if none configured, so
	// the kernel has something to evaluate against out of the box.
	if len(c.Policies) == 0 {
		c.Policies = []PolicySeed{
			{
				ID:              "dev-allow-all",
				Name:            "Development allow-all",
				Version:         "1.0.0",
				Precedence:      "internal",
				EnforcementMode: "monitor",
				Rules: []PolicyRuleSeed{
					{
						ID:     "allow-all",
						Effect: "allow",
						Conditions: []PolicyConditionSeed{
							{Field: "action", Operator: "ne", Value: "__never__"},
						},
					},
				},
			},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *KernelConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "5s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "5s"
	}
	if c.Server.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Server.NodeID = host
		} else {
			c.Server.NodeID = "governed-node"
		}
	}

	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "30s"
	}
	if c.Cache.SweepInterval == "" {
		c.Cache.SweepInterval = "60s"
	}

	if c.ChangeStream.SubscriberQueueSize == 0 {
		c.ChangeStream.SubscriberQueueSize = 64
	}
	if c.ChangeStream.PushHeartbeatWindow == "" {
		c.ChangeStream.PushHeartbeatWindow = "60s"
	}

	if c.Evaluation.Timeout == "" {
		c.Evaluation.Timeout = "100ms"
	}
	if c.Evaluation.MaxStoredEvaluations == 0 {
		c.Evaluation.MaxStoredEvaluations = 1000
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 && !viper.IsSet("audit.warning_threshold") {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	if c.AuditFile.RetentionDays == 0 {
		c.AuditFile.RetentionDays = 7
	}
	if c.AuditFile.MaxFileSizeMB == 0 {
		c.AuditFile.MaxFileSizeMB = 100
	}
	if c.AuditFile.CacheSize == 0 {
		c.AuditFile.CacheSize = 1000
	}

	if c.EventStore.Path == "" {
		c.EventStore.Path = "governed-events.db"
	}
	if c.EventStore.RetentionDays == 0 && !viper.IsSet("event_store.retention_days") {
		c.EventStore.RetentionDays = 30
	}

	// Telemetry defaults on by default; only apply when the user
	// hasn't explicitly set it, so an explicit "false" sticks.
	if !viper.IsSet("telemetry.metrics_enabled") {
		c.Telemetry.MetricsEnabled = true
	}
	if !viper.IsSet("telemetry.tracing_enabled") {
		c.Telemetry.TracingEnabled = true
	}
	if c.DevMode && !viper.IsSet("telemetry.stdout_exporter") {
		c.Telemetry.StdoutExporter = true
	}
}
