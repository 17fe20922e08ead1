// Package config handles YAML configuration loading with environment
// variable expansion, following the teacher's internal/config/config.go
// (env-expansion regex, defaults-then-Unmarshal Load pattern) retargeted
// from the teacher's multi-provider gateway routing config to the
// worker's local-first settings: provider endpoints, default permission
// grants, rate-limit overrides, and the remote-access tunnel's defaults
// (spec.md's Configuration section, SPEC_FULL.md §2).
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level worker configuration.
type Config struct {
	Logging        LoggingConfig         `yaml:"logging"`
	Paths          PathsConfig           `yaml:"paths"`
	Ollama         OllamaConfig          `yaml:"ollama"`
	Sidecar        SidecarConfig         `yaml:"sidecar"`
	Remote         RemoteConfig          `yaml:"remote"`
	Permissions    []string              `yaml:"grant_permissions"`
	RateLimits     []RateLimitOverride   `yaml:"rate_limit_overrides"`
	SysStats       SysStatsConfig        `yaml:"sysstats"`
	CloudProviders []CloudProviderConfig `yaml:"cloud_providers"`
	Telemetry      TelemetryConfig       `yaml:"telemetry"`
}

// TelemetryConfig gates the Prometheus metrics exporter and OpenTelemetry
// tracing behind an explicit flag; both are off by default so a worker
// with no collector configured doesn't spend a port or a goroutine on
// them (spec.md's ambient observability stack, SPEC_FULL.md §2).
type TelemetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MetricsAddr     string  `yaml:"metrics_addr"`      // e.g. "127.0.0.1:9090", serves /metrics
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`     // e.g. "127.0.0.1:4317"
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0..1
}

// CloudProviderConfig configures one optional cloud passthrough adapter,
// reachable only from the remote HTTP surface's chat endpoint, never from
// the local `chat` IPC command (SPEC_FULL.md §4.8[ADD]).
type CloudProviderConfig struct {
	Name    string `yaml:"name"`   // provider key clients pass as ChatInput.Provider
	Kind    string `yaml:"kind"`   // "anthropic", "gemini", or "openai"
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig controls the slog handler built at startup.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// PathsConfig locates the per-user directories the worker's file-backed
// stores (conversations, memory, projects, tunnel token) live under.
type PathsConfig struct {
	ConfigDir string `yaml:"config_dir"` // per-user root; DataDir defaults to <ConfigDir>/data
	DataDir   string `yaml:"data_dir"`   // history, memory, projects, audit, tunnel, keys
}

// OllamaConfig points the local provider at a running Ollama daemon.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SidecarConfig locates the airllm generation sidecar binary.
type SidecarConfig struct {
	BinaryPath         string   `yaml:"binary_path"`
	Args               []string `yaml:"args"`
	LoadTimeoutSeconds int      `yaml:"load_timeout_seconds"`
}

// RemoteConfig seeds the tunneled HTTP surface's defaults (spec.md §4.11).
type RemoteConfig struct {
	Port                   int      `yaml:"port"`
	AllowedIPs             []string `yaml:"allowed_ips"`
	PerIPLimitRPM          int      `yaml:"per_ip_limit_rpm"`
	TokenExpiryHours       int      `yaml:"token_expiry_hours"`
	CloudflaredDownloadURL string   `yaml:"cloudflared_download_url"`
}

// RateLimitOverride sets a non-default per-minute ceiling for one command
// in the dispatcher's sliding-window limiter.
type RateLimitOverride struct {
	Command string `yaml:"command"`
	RPM     int    `yaml:"rpm"`
}

// SysStatsConfig sizes the in-memory ring buffer telemetry taps into.
type SysStatsConfig struct {
	LogBufferCapacity int `yaml:"log_buffer_capacity"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// defaultConfigDir returns the per-user config directory, falling back to
// "." if the OS can't resolve one (spec.md's tunnel binary is placed
// "under a per-user config directory").
func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir + "/horizon-worker"
}

// Load reads and parses a YAML config file, expanding environment
// variables, and applies defaults for anything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Paths: PathsConfig{
			ConfigDir: defaultConfigDir(),
			DataDir:   defaultConfigDir() + "/data",
		},
		Ollama: OllamaConfig{BaseURL: "http://127.0.0.1:11434"},
		Sidecar: SidecarConfig{
			LoadTimeoutSeconds: 600,
		},
		Remote: RemoteConfig{
			Port:             8765,
			PerIPLimitRPM:    60,
			TokenExpiryHours: 0, // 0 = no expiry
		},
		SysStats: SysStatsConfig{LogBufferCapacity: 100},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			MetricsAddr:     "127.0.0.1:9090",
			OTLPEndpoint:    "127.0.0.1:4317",
			TraceSampleRate: 0.1,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadTimeout returns the sidecar's configured load timeout as a Duration.
func (c SidecarConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSeconds) * time.Second
}
