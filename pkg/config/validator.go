package config

import "fmt"

// validate performs the checks tarsy's pkg/config/validator.go runs
// after merge: required fields present, cross-references resolvable.
func validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return newValidationError("server.listen_addr", fmt.Errorf("must not be empty"))
	}
	if len(cfg.Router.Endpoints) == 0 {
		return newValidationError("router.endpoints", fmt.Errorf("at least one model endpoint is required"))
	}
	found := false
	for _, ep := range cfg.Router.Endpoints {
		if ep.Name == "" {
			return newValidationError("router.endpoints[].name", fmt.Errorf("must not be empty"))
		}
		if ep.Name == cfg.Router.DefaultModel {
			found = true
		}
	}
	if cfg.Router.DefaultModel == "" {
		return newValidationError("router.default_model", fmt.Errorf("must not be empty"))
	}
	if !found {
		return newValidationError("router.default_model", fmt.Errorf("%q is not among router.endpoints", cfg.Router.DefaultModel))
	}
	if cfg.Jobs.Workers < 0 {
		return newValidationError("jobs.workers", fmt.Errorf("must not be negative"))
	}
	if cfg.Jobs.QueueDepth < 0 {
		return newValidationError("jobs.queue_depth", fmt.Errorf("must not be negative"))
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return newValidationError("rate_limit.requests_per_second", fmt.Errorf("must be positive"))
	}
	if cfg.Data.Dir == "" {
		return newValidationError("data.dir", fmt.Errorf("must not be empty"))
	}
	return nil
}
