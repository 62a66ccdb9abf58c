// Package config provides configuration loading for the governance
// kernel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, it searches for
// governed.yaml/.yml in standard locations. The search requires an
// explicit YAML extension to avoid matching the binary itself, which
// Viper's built-in SetConfigName would match (same base name, no
// extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("governed")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GOVERNED_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("GOVERNED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a governed config
// file with an explicit YAML extension (.yaml or .yml). This prevents
// Viper from matching the binary "governed" (no extension) in the
// current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".governed"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "governed"))
		}
	} else {
		paths = append(paths, "/etc/governed")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for
// governed.yaml or .yml. Returns the full path of the first match, or
// empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "governed"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the KernelConfig keys listed below for
// environment variable support; keys not listed (the other audit.*
// keys and all audit_file.* keys) are not bound. Example:
// GOVERNED_SERVER_HTTP_ADDR overrides server.http_addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.read_timeout")
	_ = viper.BindEnv("server.write_timeout")
	_ = viper.BindEnv("server.node_id")

	_ = viper.BindEnv("cache.max_entries")
	_ = viper.BindEnv("cache.ttl")
	_ = viper.BindEnv("cache.sweep_interval")

	_ = viper.BindEnv("change_stream.subscriber_queue_size")
	_ = viper.BindEnv("change_stream.push_heartbeat_window")

	_ = viper.BindEnv("evaluation.timeout")
	_ = viper.BindEnv("evaluation.max_stored_evaluations")

	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")

	_ = viper.BindEnv("event_store.enabled")
	_ = viper.BindEnv("event_store.path")
	_ = viper.BindEnv("event_store.retention_days")

	_ = viper.BindEnv("telemetry.metrics_enabled")
	_ = viper.BindEnv("telemetry.tracing_enabled")
	_ = viper.BindEnv("telemetry.stdout_exporter")

	// Note: policies is an array, complex to override via env. Users
	// should use the config file for seed policies.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment
// overrides, sets defaults, and returns the KernelConfig. Caller
// should apply any CLI flag overrides (e.g. --dev) before calling
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization
// — which this function already sequences for the common case.
func LoadConfig() (*KernelConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only, which
		// allows running with pure environment variable configuration.
	}

	var cfg KernelConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*KernelConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg KernelConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env
// vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
