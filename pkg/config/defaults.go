package config

// defaultConfig returns the built-in configuration merged under any
// user-provided YAML, the way tarsy's GetBuiltinConfig seeds
// agents/chains/MCP servers before the user's tarsy.yaml overrides them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: "15s",
			MaxBodyBytes:    1024 * 1024,
		},
		Auth: AuthConfig{
			TokenEnv: "NOVAADAPT_AUTH_TOKEN",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Router: RouterConfig{
			Temperature:           0.2,
			MaxTokens:             1024,
			TimeoutSeconds:        90,
			DefaultVoteCandidates: 3,
			MinVoteAgreement:      1,
		},
		Policy: PolicyConfig{
			AllowDangerousDefault: false,
		},
		Jobs: JobManagerConfig{
			Workers:    4,
			QueueDepth: 256,
		},
		Orchestrator: OrchestratorConfig{
			DefaultMaxActions:         25,
			ActionRetryAttempts:       0,
			ActionRetryBackoffSeconds: 0.25,
			HistoryLimit:              20,
			EventsLimit:               100,
		},
		Idempotency: IdempotencyConfig{
			RetentionSeconds: 7 * 24 * 3600,
		},
		Audit: AuditConfig{
			RetentionSeconds:       30 * 24 * 3600,
			CleanupIntervalSeconds: 3600,
			RetryAttempts:          3,
			RetryBackoffSeconds:    0.1,
		},
		Tracing: TracingConfig{
			ServiceName: "novaadaptd",
		},
	}
}
