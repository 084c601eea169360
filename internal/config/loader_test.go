package config_test

import (
	"strings"
	"testing"

	"github.com/parrotalk/parrotalk/internal/config"
)

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing openai.api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
openai:
  api_key: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_ScenarioRequiresLLM(t *testing.T) {
	t.Parallel()
	yaml := `
openai:
  api_key: sk-test
scenario:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for scenario without LLM provider, got nil")
	}
	if !strings.Contains(err.Error(), "llm.name") {
		t.Errorf("error should mention llm.name, got: %v", err)
	}
}

func TestValidate_DatabaseRequiresJWTSecret(t *testing.T) {
	t.Parallel()
	yaml := `
openai:
  api_key: sk-test
database:
  postgres_dsn: "postgres://localhost/parrotalk"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for database without jwt_secret, got nil")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error should mention jwt_secret, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/parrotalk/tls.crt
openai:
  api_key: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS without key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_NegativeCleanupTTL(t *testing.T) {
	t.Parallel()
	yaml := `
openai:
  api_key: sk-test
cleanup:
  ttl: -1h
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative cleanup.ttl, got nil")
	}
}

func TestValidate_NegativeMaxAttempts(t *testing.T) {
	t.Parallel()
	yaml := `
openai:
  api_key: sk-test
llm:
  name: openai
scenario:
  enabled: true
  max_attempts: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_attempts, got nil")
	}
}

func TestDefaults_ScenarioMaxAttempts(t *testing.T) {
	t.Parallel()
	yaml := `
openai:
  api_key: sk-test
llm:
  name: openai
scenario:
  enabled: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scenario.MaxAttempts != config.DefaultScenarioMaxAttempts {
		t.Errorf("scenario.max_attempts = %d, want the default %d applied when unset",
			cfg.Scenario.MaxAttempts, config.DefaultScenarioMaxAttempts)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
scenario:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
	if !strings.Contains(errStr, "llm.name") {
		t.Errorf("error should mention llm.name, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
