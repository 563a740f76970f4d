package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads a .env file at path into the process environment,
// the way cmd/tarsy/main.go loads <config-dir>/.env before reading any
// other configuration. A missing file is not an error — local/dev
// credential injection is optional, and in production the environment
// is expected to already be populated.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads the YAML configuration file at path, expands environment
// variables, merges it over the built-in defaults, resolves the bearer
// auth token from its named environment variable, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newLoadError(path, ErrConfigNotFound)
		}
		return nil, newLoadError(path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var loaded Config
	if err := yaml.Unmarshal([]byte(expanded), &loaded); err != nil {
		return nil, newLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := defaultConfig()
	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, newLoadError(path, fmt.Errorf("merge over defaults: %w", err))
	}

	if cfg.Auth.TokenEnv != "" {
		cfg.Auth.Token = os.Getenv(cfg.Auth.TokenEnv)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
