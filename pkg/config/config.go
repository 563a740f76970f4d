// Package config loads and validates novaadaptd's configuration: a YAML
// file with environment-variable expansion, merged over built-in
// defaults with dario.cat/mergo, the way tarsy's pkg/config/loader.go
// merges tarsy.yaml over GetBuiltinConfig(). Unlike tarsy (whose config
// is agent/chain/MCP-server registries), novaadaptd's config shape is the
// router's endpoint set plus the knobs every other pkg/* component
// exposes as constructor arguments.
package config

import "github.com/novaadapt/novaadapt-core/pkg/models"

// Config is the fully resolved, validated configuration novaadaptd's
// entrypoint wires into every collaborator.
type Config struct {
	Server       ServerConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Data         DataConfig
	Router       RouterConfig
	Policy       PolicyConfig
	Jobs         JobManagerConfig
	Orchestrator OrchestratorConfig
	Idempotency  IdempotencyConfig
	Audit        AuditConfig
	Tracing      TracingConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	ShutdownTimeout   string   `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

// AuthConfig names the environment variable holding the bearer token
// required on every route except the public health, metrics,
// openapi.json and events-stream routes. TokenEnv is resolved to
// Token at load time; Token is never read from YAML directly so the
// token itself never needs to live in a config file.
type AuthConfig struct {
	TokenEnv string `yaml:"token_env"`
	Token    string `yaml:"-"`
}

// RateLimitConfig controls the per-client token-bucket limiter
// (golang.org/x/time/rate) in front of every authenticated route; the
// public routes are not rate-limited.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DataConfig names the directory holding the five embedded SQLite files.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// RouterConfig configures pkg/router.New.
type RouterConfig struct {
	Endpoints             []models.Endpoint `yaml:"endpoints"`
	DefaultModel          string            `yaml:"default_model"`
	Temperature           float64           `yaml:"temperature"`
	MaxTokens             int               `yaml:"max_tokens"`
	TimeoutSeconds        int               `yaml:"timeout_seconds"`
	DefaultVoteCandidates int               `yaml:"default_vote_candidates"`
	MinVoteAgreement      int               `yaml:"min_vote_agreement"`
}

// PolicyConfig holds the allow_dangerous_default setting. novaadaptd does
// not read it; whether a dangerous action may run is decided per request
// by its allow_dangerous flag.
type PolicyConfig struct {
	AllowDangerousDefault bool `yaml:"allow_dangerous_default"`
}

// JobManagerConfig configures pkg/jobmanager.NewManager.
type JobManagerConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// OrchestratorConfig configures pkg/orchestrator.Config.
type OrchestratorConfig struct {
	DefaultMaxActions         int     `yaml:"default_max_actions"`
	ActionRetryAttempts       int     `yaml:"action_retry_attempts"`
	ActionRetryBackoffSeconds float64 `yaml:"action_retry_backoff_seconds"`
	HistoryLimit              int     `yaml:"history_limit"`
	EventsLimit               int     `yaml:"events_limit"`
}

// IdempotencyConfig holds a retention period for idempotency entries.
// novaadaptd does not pass it to pkg/idempotency, whose store has no
// retention sweep: entries stay until they are cleared.
type IdempotencyConfig struct {
	RetentionSeconds int `yaml:"retention_seconds"`
}

// AuditConfig configures pkg/audit.Options.
type AuditConfig struct {
	RetentionSeconds       int     `yaml:"retention_seconds"`
	CleanupIntervalSeconds float64 `yaml:"cleanup_interval_seconds"`
	RetryAttempts          int     `yaml:"retry_attempts"`
	RetryBackoffSeconds    float64 `yaml:"retry_backoff_seconds"`
}

// TracingConfig names the service for OTEL resource attributes; exporter
// selection itself stays environment-driven per pkg/tracing.
type TracingConfig struct {
	ServiceName string `yaml:"service_name"`
}
