package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields with the Default* values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = DefaultRealtimeModel
	}
	if cfg.OpenAI.Voice == "" {
		cfg.OpenAI.Voice = DefaultVoice
	}
	if cfg.Conversation.DefaultTitle == "" {
		cfg.Conversation.DefaultTitle = DefaultSessionTitle
	}
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = DefaultCleanupInterval
	}
	if cfg.Cleanup.TTL == 0 {
		cfg.Cleanup.TTL = DefaultSessionTTL
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	if cfg.Scenario.MaxAttempts == 0 {
		cfg.Scenario.MaxAttempts = DefaultScenarioMaxAttempts
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Upstream realtime connection
	if cfg.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}

	// LLM provider
	validateProviderName("llm", cfg.LLM.Name)
	if cfg.Scenario.Enabled && cfg.LLM.Name == "" {
		errs = append(errs, errors.New("scenario.enabled requires an LLM provider but llm.name is not configured"))
	}
	if cfg.Scenario.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("scenario.max_attempts %d must not be negative", cfg.Scenario.MaxAttempts))
	}

	// History and accounts
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; history persistence and user accounts are disabled")
	} else if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when database.postgres_dsn is set"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}

	// Cleanup
	if cfg.Cleanup.Interval < 0 {
		errs = append(errs, fmt.Errorf("cleanup.interval %s must not be negative", cfg.Cleanup.Interval))
	}
	if cfg.Cleanup.TTL < 0 {
		errs = append(errs, fmt.Errorf("cleanup.ttl %s must not be negative", cfg.Cleanup.TTL))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
