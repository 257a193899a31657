package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv unsets every variable the loader reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		for _, name := range append([]string{s.env}, s.aliases...) {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

// TestDefaults verifies all default values are applied when the config file is missing.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := loadWith(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/xdg-data/sift" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Budget.MonthlyLimit != 10 {
		t.Errorf("Budget.MonthlyLimit = %v, want 10", cfg.Budget.MonthlyLimit)
	}
	if cfg.Scoring.RelevanceWeight != 0.5 || cfg.Scoring.EmotionWeight != 0.2 || cfg.Scoring.PainWeight != 0.3 {
		t.Errorf("Scoring weights = %+v", cfg.Scoring)
	}
	if cfg.Scoring.Threshold != 6.5 {
		t.Errorf("Scoring.Threshold = %v, want 6.5", cfg.Scoring.Threshold)
	}
	if cfg.Batch.MaxRetries != 3 || cfg.Batch.InitialBackoff != 2*time.Second || cfg.Batch.MaxBackoff != time.Minute {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Pricing.Filter.Input != 0.15 || cfg.Pricing.Insight.Output != 8 || cfg.Pricing.Discovery.AvgOutputTokens != 600 {
		t.Errorf("Pricing = %+v", cfg.Pricing)
	}
	if len(cfg.Source.PrimaryGroups) == 0 {
		t.Error("Source.PrimaryGroups is empty")
	}
	if cfg.Storage.LedgerFile() != "/tmp/xdg-data/sift/cost_ledger.json" {
		t.Errorf("LedgerFile = %q", cfg.Storage.LedgerFile())
	}
}

// TestYAMLParsing verifies nested YAML keys map onto the config sections.
func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
storage:
  data_dir: /tmp/sift-test
  retention_days: 45
source:
  primary_groups: [golang, kubernetes]
  primary_percentage: 70
  include_comments: true
llm:
  filter_model: gpt-4o-mini
  api_key: file-key
batch:
  token_limit: 5000
  initial_backoff: 500ms
budget:
  monthly_limit: 25.5
pricing:
  insight:
    input: 3
    avg_output_tokens: 400
`)

	cfg, err := loadWith(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/sift-test" || cfg.Storage.RetentionDays != 45 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if len(cfg.Source.PrimaryGroups) != 2 || cfg.Source.PrimaryGroups[1] != "kubernetes" {
		t.Errorf("PrimaryGroups = %v", cfg.Source.PrimaryGroups)
	}
	if cfg.Source.PrimaryPercentage != 70 || !cfg.Source.IncludeComments {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.LLM.FilterModel != "gpt-4o-mini" {
		t.Errorf("FilterModel = %q", cfg.LLM.FilterModel)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("secret read from config file: %q", cfg.LLM.APIKey)
	}
	if cfg.Batch.TokenLimit != 5000 || cfg.Batch.InitialBackoff != 500*time.Millisecond {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Budget.MonthlyLimit != 25.5 {
		t.Errorf("MonthlyLimit = %v", cfg.Budget.MonthlyLimit)
	}
	if cfg.Pricing.Insight.Input != 3 || cfg.Pricing.Insight.AvgOutputTokens != 400 || cfg.Pricing.Insight.Output != 8 {
		t.Errorf("Pricing.Insight = %+v", cfg.Pricing.Insight)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "budget:\n  monthly_limit: 5\nsource:\n  primary_groups: [a]\n")

	t.Setenv("SIFT_BUDGET_MONTHLY_LIMIT", "12.5")
	t.Setenv("SIFT_SOURCE_PRIMARY_GROUPS", "devops, sre ,")
	t.Setenv("OPENAI_API_KEY", "alias-key")

	cfg, err := loadWith(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Budget.MonthlyLimit != 12.5 {
		t.Errorf("MonthlyLimit = %v, want 12.5", cfg.Budget.MonthlyLimit)
	}
	if strings.Join(cfg.Source.PrimaryGroups, "|") != "devops|sre" {
		t.Errorf("PrimaryGroups = %v", cfg.Source.PrimaryGroups)
	}
	if cfg.LLM.APIKey != "alias-key" {
		t.Errorf("APIKey = %q, want alias-key", cfg.LLM.APIKey)
	}

	t.Setenv("SIFT_LLM_API_KEY", "primary-key")
	cfg, _ = loadWith(path, "")
	if cfg.LLM.APIKey != "primary-key" {
		t.Errorf("APIKey = %q, want SIFT_LLM_API_KEY to win over alias", cfg.LLM.APIKey)
	}
}

// TestInvalidValuesKeepDefaults verifies unparseable values fall back to defaults.
func TestInvalidValuesKeepDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "batch:\n  max_retries: lots\n")
	t.Setenv("SIFT_BATCH_TOKEN_LIMIT", "huge")

	cfg, err := loadWith(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Batch.MaxRetries != 3 || cfg.Batch.TokenLimit != 20000 {
		t.Errorf("Batch = %+v, want defaults", cfg.Batch)
	}
}

// TestDotEnv verifies .env values are loaded without overriding set variables.
func TestDotEnv(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "SIFT_LLM_API_KEY=dotenv-key\nSIFT_BUDGET_MONTHLY_LIMIT=3\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIFT_BUDGET_MONTHLY_LIMIT", "7")

	cfg, err := loadWith(filepath.Join(t.TempDir(), "none.yaml"), envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "dotenv-key" {
		t.Errorf("APIKey = %q, want dotenv-key", cfg.LLM.APIKey)
	}
	if cfg.Budget.MonthlyLimit != 7 {
		t.Errorf("MonthlyLimit = %v, want env value 7", cfg.Budget.MonthlyLimit)
	}
}

// TestRequireLLM verifies a clear error when the API key is missing everywhere.
func TestRequireLLM(t *testing.T) {
	var cfg Config
	err := cfg.RequireLLM()
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
	cfg.LLM.APIKey = "k"
	if err := cfg.RequireLLM(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sift", "config.yaml")

	if err := SetKey(path, "batch.token_limit", "7000"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey(path, "source.primary_groups", "golang,rust"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey(path, "batch.max_backoff", "90s"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	cfg, err := loadWith(path, "")
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Batch.TokenLimit != 7000 || cfg.Batch.MaxBackoff != 90*time.Second {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if strings.Join(cfg.Source.PrimaryGroups, ",") != "golang,rust" {
		t.Errorf("PrimaryGroups = %v", cfg.Source.PrimaryGroups)
	}
}

func TestSetKeyRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	tests := []struct {
		key, value, want string
	}{
		{"llm.api_key", "x", "cannot set secret"},
		{"nope.key", "x", "unknown config key"},
		{"batch.token_limit", "many", "invalid integer"},
	}
	for _, tt := range tests {
		err := SetKey(path, tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("SetKey(%s) err = %v, want %q", tt.key, err, tt.want)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "llm.api_key" || ki.Value == "sk-secret" {
			t.Errorf("secret exposed: %+v", ki)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll and ValidKeys disagree")
	}
}
