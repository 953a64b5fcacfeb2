package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timvw/park-patrol/internal/model"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PARK_PATROL_PROVIDER", "PARK_PATROL_MODEL", "PARK_PATROL_BASE_URL",
		"PARK_PATROL_API_KEY", "PARK_PATROL_MAX_TOKENS", "PARK_PATROL_LOCAL_BASE_URL",
		"PARK_PATROL_LOCAL_MODEL", "PARK_PATROL_OCR", "PARK_PATROL_VISION",
		"PARK_PATROL_DECISION", "PARK_PATROL_VEHICLE_TYPE", "PARK_PATROL_CITY",
		"PARK_PATROL_STATE", "PARK_PATROL_TIMEZONE", "PARK_PATROL_PREFS_FILE",
		"PARK_PATROL_TIMEOUT", "PARK_PATROL_CACHE_TTL", "PARK_PATROL_HISTORY_LIMIT", "PARK_PATROL_HISTORY_TTL",
		"PARK_PATROL_LISTEN", "PARK_PATROL_LOG_LEVEL", "PARK_PATROL_LOG_FORMAT",
		"PARK_PATROL_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
		"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "AZURE_RESOURCE_NAME",
	} {
		t.Setenv(key, "")
	}
}

// inTempDir runs the test from an empty directory with HOME pointing at it,
// so no real config file is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", dir)
	return dir
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Provider != "openai" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "openai")
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("MaxTokens: got %d, want %d", cfg.MaxTokens, 1024)
	}
	if cfg.LocalBaseURL != "http://localhost:11434/v1" {
		t.Errorf("LocalBaseURL: got %q", cfg.LocalBaseURL)
	}
	if cfg.Vision != "local" || cfg.Decision != "remote" {
		t.Errorf("selectors: got %q/%q, want local/remote", cfg.Vision, cfg.Decision)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit: got %d, want 50", cfg.HistoryLimit)
	}
}

func TestParseDurationOrDisable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMs  int64
		wantErr bool
	}{
		{"empty returns fallback", "", 5000, false},
		{"zero disables", "0", 0, false},
		{"off disables", "off", 0, false},
		{"disable disables", "disable", 0, false},
		{"valid duration", "30s", 30000, false},
		{"valid short duration", "500ms", 500, false},
		{"invalid", "not-a-duration", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDurationOrDisable(tt.input, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDurationOrDisable(%q): error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Milliseconds() != tt.wantMs {
				t.Errorf("parseDurationOrDisable(%q) = %v, want %dms", tt.input, got, tt.wantMs)
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnv(t)
	inTempDir(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile: got %q, want empty", cfg.ConfigFile)
	}
	if cfg.TimeoutDuration != 60*time.Second {
		t.Errorf("TimeoutDuration: got %v, want 60s", cfg.TimeoutDuration)
	}
	if cfg.CacheTTLDuration != 10*time.Minute {
		t.Errorf("CacheTTLDuration: got %v, want 10m", cfg.CacheTTLDuration)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := inTempDir(t)
	content := `provider: anthropic
model: claude-sonnet-4-5
api_key: test-key-123
max_tokens: 2048
local_model: llama3.2
vision: remote
decision: apple
vehicle_type: suv
city: Oakland
state: CA
timezone: America/Los_Angeles
cache_ttl: "off"
history_limit: 10
history_ttl: 24h
`
	if err := os.WriteFile(filepath.Join(dir, ".park-patrol.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ConfigFile != ".park-patrol.yaml" {
		t.Errorf("ConfigFile: got %q", cfg.ConfigFile)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "anthropic")
	}
	if cfg.MaxTokens != 2048 {
		t.Errorf("MaxTokens: got %d, want %d", cfg.MaxTokens, 2048)
	}
	if cfg.LocalModel != "llama3.2" {
		t.Errorf("LocalModel: got %q", cfg.LocalModel)
	}
	if cfg.CacheTTLDuration != 0 {
		t.Errorf("CacheTTLDuration: got %v, want 0 (disabled)", cfg.CacheTTLDuration)
	}
	if cfg.HistoryTTLDuration != 24*time.Hour {
		t.Errorf("HistoryTTLDuration: got %v, want 24h", cfg.HistoryTTLDuration)
	}
	if cfg.Credential != "test-key-123" {
		t.Errorf("Credential: got %q, want the file api_key", cfg.Credential)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("HistoryLimit: got %d, want 10", cfg.HistoryLimit)
	}
	if cfg.Location == nil || cfg.Location.String() != "America/Los_Angeles" {
		t.Errorf("Location: got %v", cfg.Location)
	}

	p, err := cfg.Preferences()
	if err != nil {
		t.Fatalf("Preferences() error: %v", err)
	}
	if p.Vision != model.SelectorRemote || p.Decision != model.SelectorLocal {
		t.Errorf("selectors: got %q/%q, want remote/local", p.Vision, p.Decision)
	}
	if p.VehicleType != model.VehicleSUV {
		t.Errorf("VehicleType: got %q, want SUV", p.VehicleType)
	}
	if p.Credential != "test-key-123" {
		t.Errorf("Credential: got %q", p.Credential)
	}
	if p.City != "Oakland" || p.State != "CA" {
		t.Errorf("location: got %q/%q", p.City, p.State)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	clearEnv(t)
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("provider: gemini\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}
	if cfg.Provider != "gemini" || cfg.ConfigFile != path {
		t.Errorf("got provider %q from %q", cfg.Provider, cfg.ConfigFile)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() with a missing explicit path: expected error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := inTempDir(t)
	content := `provider: openai
model: gpt-4o-mini
api_key: file-key
`
	if err := os.WriteFile(filepath.Join(dir, ".park-patrol.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARK_PATROL_PROVIDER", "anthropic")
	t.Setenv("PARK_PATROL_MODEL", "claude-sonnet-4-5")
	t.Setenv("PARK_PATROL_API_KEY", "env-key")
	t.Setenv("PARK_PATROL_MAX_TOKENS", "512")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://generic:4318")
	t.Setenv("PARK_PATROL_OTEL_ENDPOINT", "http://specific:4318")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Provider != "anthropic" {
		t.Errorf("Provider: got %q, want %q (env should override file)", cfg.Provider, "anthropic")
	}
	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("Model: got %q, want %q (env should override file)", cfg.Model, "claude-sonnet-4-5")
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey: got %q, want %q (env should override file)", cfg.APIKey, "env-key")
	}
	if cfg.MaxTokens != 512 {
		t.Errorf("MaxTokens: got %d, want 512", cfg.MaxTokens)
	}
	if cfg.OTELEndpoint != "http://specific:4318" {
		t.Errorf("OTELEndpoint: got %q", cfg.OTELEndpoint)
	}
}

func TestAPIKeyFallbackFollowsProvider(t *testing.T) {
	tests := []struct {
		provider string
		env      map[string]string
		want     string
	}{
		{"openai", map[string]string{"OPENAI_API_KEY": "sk-openai", "ANTHROPIC_API_KEY": "sk-ant"}, "sk-openai"},
		{"openai", map[string]string{"AZURE_OPENAI_API_KEY": "azure-key"}, "azure-key"},
		{"anthropic", map[string]string{"OPENAI_API_KEY": "sk-openai", "ANTHROPIC_API_KEY": "sk-ant"}, "sk-ant"},
		{"gemini", map[string]string{"GOOGLE_API_KEY": "g-key"}, "g-key"},
		{"gemini", map[string]string{"GEMINI_API_KEY": "gem", "GOOGLE_API_KEY": "g-key"}, "gem"},
		{"anthropic", map[string]string{"OPENAI_API_KEY": "sk-openai"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.want, func(t *testing.T) {
			clearEnv(t)
			inTempDir(t)
			t.Setenv("PARK_PATROL_PROVIDER", tt.provider)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Credential != tt.want {
				t.Errorf("Credential: got %q, want %q", cfg.Credential, tt.want)
			}
		})
	}
}

func TestAzureBaseURLFallback(t *testing.T) {
	clearEnv(t)
	inTempDir(t)
	t.Setenv("AZURE_RESOURCE_NAME", "myres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if want := "https://myres.openai.azure.com/openai/v1"; cfg.Endpoint != want {
		t.Errorf("Endpoint: got %q, want %q", cfg.Endpoint, want)
	}
	if cfg.BaseURL != "" {
		t.Errorf("BaseURL: got %q, want it left empty", cfg.BaseURL)
	}
}

func TestValidateResolvesCredentialForChangedProvider(t *testing.T) {
	clearEnv(t)
	inTempDir(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("AZURE_RESOURCE_NAME", "myres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Credential != "" {
		t.Fatalf("Credential for openai: got %q, want empty", cfg.Credential)
	}

	// A --provider flag is applied after Load.
	cfg.Provider = "anthropic"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Credential != "sk-ant" {
		t.Errorf("Credential: got %q, want %q", cfg.Credential, "sk-ant")
	}
	if want := "https://myres.services.ai.azure.com/anthropic/"; cfg.Endpoint != want {
		t.Errorf("Endpoint: got %q, want %q", cfg.Endpoint, want)
	}
	p, err := cfg.Preferences()
	if err != nil {
		t.Fatal(err)
	}
	if p.Credential != "sk-ant" {
		t.Errorf("preference credential: got %q, want %q", p.Credential, "sk-ant")
	}
}

func TestExplicitAPIKeyWinsOverEnvironment(t *testing.T) {
	clearEnv(t)
	inTempDir(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.Provider = "anthropic"
	cfg.APIKey = "from-flag"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Credential != "from-flag" {
		t.Errorf("Credential: got %q, want %q", cfg.Credential, "from-flag")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.Provider = "mistral" }},
		{"vision selector", func(c *Config) { c.Vision = "cloud" }},
		{"decision selector", func(c *Config) { c.Decision = "" }},
		{"vehicle type", func(c *Config) { c.VehicleType = "bus" }},
		{"timeout", func(c *Config) { c.Timeout = "soon" }},
		{"cache ttl", func(c *Config) { c.CacheTTL = "forever" }},
		{"history ttl", func(c *Config) { c.HistoryTTL = "a while" }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() with bad %s: expected error", tt.name)
			}
		})
	}
}
