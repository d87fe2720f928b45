// Package config loads runtime settings from an optional YAML file and
// environment variables, and parses the domain policy file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"

	"github.com/sipico/freesub/internal/provider"
)

// ErrMissingToken is returned by RequireProviderToken when no token is set.
var ErrMissingToken = errors.New("PROVIDER_API_TOKEN environment variable is required")

// Config holds the runtime settings.
type Config struct {
	ProviderAPIToken  string        `koanf:"provider_api_token"`
	ProviderAPIURL    string        `koanf:"provider_api_url" validate:"required,url"`
	ProviderTimeout   time.Duration `koanf:"provider_timeout" validate:"gt=0"`
	ProviderRateLimit float64       `koanf:"provider_rate_limit" validate:"gte=0"`
	LogLevel          string        `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	PolicyFile        string        `koanf:"policy_file" validate:"required"`
	StoreBackend      string        `koanf:"store_backend" validate:"oneof=file sqlite"`
	StorePath         string        `koanf:"store_path" validate:"required"`
	MetricsFile       string        `koanf:"metrics_file"`
	DNSResolver       string        `koanf:"dns_resolver" validate:"required,hostname_port"`
}

// defaults are applied before the file and environment layers.
var defaults = map[string]any{
	"provider_api_url":    provider.DefaultBaseURL,
	"provider_timeout":    provider.DefaultTimeout.String(),
	"provider_rate_limit": provider.DefaultRateLimit,
	"log_level":           "info",
	"policy_file":         "config/domains.yml",
	"store_backend":       "file",
	"store_path":          "domains",
	"metrics_file":        "",
	"dns_resolver":        "1.1.1.1:53",
}

var validate = validator.New()

// Load builds the configuration. Defaults are overridden by the YAML file at
// path (skipped when path is empty), which is overridden by environment
// variables such as PROVIDER_API_TOKEN or STORE_BACKEND.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Only known, non-empty keys are taken from the environment:
	// PROVIDER_TIMEOUT -> provider_timeout.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		name := strings.ToLower(key)
		if _, ok := defaults[name]; (!ok && name != "provider_api_token") || value == "" {
			return "", nil
		}
		return name, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks all configuration constraints that do not depend on the
// command being run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s validation (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireProviderToken checks that a well-formed provider token is set.
// Commands that talk to the provider call this before the first request.
func (c *Config) RequireProviderToken() error {
	if c.ProviderAPIToken == "" {
		return ErrMissingToken
	}
	if err := provider.ValidateToken(c.ProviderAPIToken); err != nil {
		return fmt.Errorf("PROVIDER_API_TOKEN: %w", err)
	}
	return nil
}
