// Package config loads park-patrol configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Command-line flags (applied by cmd)
//  2. Environment variables (PARK_PATROL_*)
//  3. Config file
//  4. Built-in defaults
//
// Config file search order:
//  1. the path given with --config
//  2. .park-patrol.yaml in current directory
//  3. ~/.config/park-patrol/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/prefs"
)

// Config holds all park-patrol configuration.
type Config struct {
	// Remote LLM settings
	Provider  string `yaml:"provider"` // openai, anthropic or gemini
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`

	// On-device settings
	LocalBaseURL string `yaml:"local_base_url"` // OpenAI-compatible server, e.g. Ollama
	LocalModel   string `yaml:"local_model"`
	OCR          string `yaml:"ocr"` // "auto", "tesseract" or "none"

	// Initial preferences, used when no preferences file is configured
	Vision      string `yaml:"vision"`   // local or remote
	Decision    string `yaml:"decision"` // local or remote
	VehicleType string `yaml:"vehicle_type"`
	City        string `yaml:"city"`
	State       string `yaml:"state"`
	Timezone    string `yaml:"timezone"` // IANA name; empty uses the system zone

	// PrefsFile is a YAML preferences file watched for changes.
	PrefsFile string `yaml:"prefs_file"`

	// Timeouts, cache and history
	Timeout      string `yaml:"timeout"`   // Go duration string per check, e.g. "60s"
	CacheTTL     string `yaml:"cache_ttl"` // Go duration string, e.g. "10m"; "0" disables
	CacheSize    int    `yaml:"cache_size"`
	HistoryLimit int    `yaml:"history_limit"`
	HistoryTTL   string `yaml:"history_ttl"` // Go duration string; "0" keeps entries until evicted

	// HTTP server
	Listen string `yaml:"listen"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed values (not from YAML, set after loading)
	TimeoutDuration    time.Duration  `yaml:"-"`
	CacheTTLDuration   time.Duration  `yaml:"-"`
	HistoryTTLDuration time.Duration  `yaml:"-"`
	Location           *time.Location `yaml:"-"`

	// Credential and Endpoint are APIKey and BaseURL with the provider's
	// conventional environment variables filled in. Validate recomputes them,
	// so they follow a provider changed by flags.
	Credential string `yaml:"-"`
	Endpoint   string `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Provider:     "openai",
		MaxTokens:    1024,
		LocalBaseURL: "http://localhost:11434/v1",
		OCR:          "auto",
		Vision:       string(model.SelectorLocal),
		Decision:     string(model.SelectorRemote),
		VehicleType:  string(model.VehicleSedan),
		Timeout:      "60s",
		CacheTTL:     "10m",
		CacheSize:    128,
		HistoryLimit: 50,
		Listen:       ":8080",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values. A non-empty path must
// exist; otherwise the default locations are searched.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	path, data, err := findConfigFile(path)
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	case path != "":
		return nil, err
	}

	// Environment variables override everything
	mergeEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate parses derived fields and checks enumerations. Call it again after
// applying flag overrides.
func (cfg *Config) Validate() error {
	var err error
	cfg.TimeoutDuration, err = parseDurationOrDisable(cfg.Timeout, 60*time.Second)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	cfg.CacheTTLDuration, err = parseDurationOrDisable(cfg.CacheTTL, 10*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid cache TTL %q: %w", cfg.CacheTTL, err)
	}
	cfg.HistoryTTLDuration, err = parseDurationOrDisable(cfg.HistoryTTL, 0)
	if err != nil {
		return fmt.Errorf("invalid history TTL %q: %w", cfg.HistoryTTL, err)
	}
	if cfg.Timezone != "" {
		if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai", "anthropic", "gemini":
		cfg.Provider = strings.ToLower(cfg.Provider)
	default:
		return fmt.Errorf("unsupported provider %q (supported: openai, anthropic, gemini)", cfg.Provider)
	}
	cfg.resolveProvider()
	if _, err := cfg.Preferences(); err != nil {
		return err
	}
	return nil
}

// Preferences returns the initial preference snapshot described by cfg.
func (cfg *Config) Preferences() (prefs.Snapshot, error) {
	vision, err := model.ParseSelector(cfg.Vision)
	if err != nil {
		return prefs.Snapshot{}, fmt.Errorf("invalid vision selector: %w", err)
	}
	decision, err := model.ParseSelector(cfg.Decision)
	if err != nil {
		return prefs.Snapshot{}, fmt.Errorf("invalid decision selector: %w", err)
	}
	vt, err := model.ParseVehicleType(cfg.VehicleType)
	if err != nil {
		return prefs.Snapshot{}, err
	}
	return prefs.Snapshot{
		Vision:      vision,
		Decision:    decision,
		Credential:  cfg.Credential,
		VehicleType: vt,
		City:        cfg.City,
		State:       cfg.State,
	}, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile(explicit string) (string, []byte, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return explicit, nil, fmt.Errorf("reading config file: %w", err)
		}
		return explicit, data, nil
	}

	// 1. Current directory
	if data, err := os.ReadFile(".park-patrol.yaml"); err == nil {
		return ".park-patrol.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "park-patrol", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString(&cfg.Provider, file.Provider)
	setString(&cfg.Model, file.Model)
	setString(&cfg.BaseURL, file.BaseURL)
	setString(&cfg.APIKey, file.APIKey)
	if file.MaxTokens > 0 {
		cfg.MaxTokens = file.MaxTokens
	}
	setString(&cfg.LocalBaseURL, file.LocalBaseURL)
	setString(&cfg.LocalModel, file.LocalModel)
	setString(&cfg.OCR, file.OCR)
	setString(&cfg.Vision, file.Vision)
	setString(&cfg.Decision, file.Decision)
	setString(&cfg.VehicleType, file.VehicleType)
	setString(&cfg.City, file.City)
	setString(&cfg.State, file.State)
	setString(&cfg.Timezone, file.Timezone)
	setString(&cfg.PrefsFile, file.PrefsFile)
	setString(&cfg.Timeout, file.Timeout)
	setString(&cfg.CacheTTL, file.CacheTTL)
	setString(&cfg.HistoryTTL, file.HistoryTTL)
	if file.CacheSize > 0 {
		cfg.CacheSize = file.CacheSize
	}
	if file.HistoryLimit > 0 {
		cfg.HistoryLimit = file.HistoryLimit
	}
	setString(&cfg.Listen, file.Listen)
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.LogFormat, file.LogFormat)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	env := map[string]*string{
		"PARK_PATROL_PROVIDER":       &cfg.Provider,
		"PARK_PATROL_MODEL":          &cfg.Model,
		"PARK_PATROL_BASE_URL":       &cfg.BaseURL,
		"PARK_PATROL_API_KEY":        &cfg.APIKey,
		"PARK_PATROL_LOCAL_BASE_URL": &cfg.LocalBaseURL,
		"PARK_PATROL_LOCAL_MODEL":    &cfg.LocalModel,
		"PARK_PATROL_OCR":            &cfg.OCR,
		"PARK_PATROL_VISION":         &cfg.Vision,
		"PARK_PATROL_DECISION":       &cfg.Decision,
		"PARK_PATROL_VEHICLE_TYPE":   &cfg.VehicleType,
		"PARK_PATROL_CITY":           &cfg.City,
		"PARK_PATROL_STATE":          &cfg.State,
		"PARK_PATROL_TIMEZONE":       &cfg.Timezone,
		"PARK_PATROL_PREFS_FILE":     &cfg.PrefsFile,
		"PARK_PATROL_TIMEOUT":        &cfg.Timeout,
		"PARK_PATROL_CACHE_TTL":      &cfg.CacheTTL,
		"PARK_PATROL_HISTORY_TTL":    &cfg.HistoryTTL,
		"PARK_PATROL_LISTEN":         &cfg.Listen,
		"PARK_PATROL_LOG_LEVEL":      &cfg.LogLevel,
		"PARK_PATROL_LOG_FORMAT":     &cfg.LogFormat,

		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.OTELEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  &cfg.OTELHeaders,
	}
	for name, dst := range env {
		setString(dst, os.Getenv(name))
	}
	// The project-specific endpoint wins over the generic OTEL variable.
	setString(&cfg.OTELEndpoint, os.Getenv("PARK_PATROL_OTEL_ENDPOINT"))

	if v, err := strconv.ParseInt(os.Getenv("PARK_PATROL_MAX_TOKENS"), 10, 64); err == nil && v > 0 {
		cfg.MaxTokens = v
	}
	if v, err := strconv.Atoi(os.Getenv("PARK_PATROL_HISTORY_LIMIT")); err == nil && v > 0 {
		cfg.HistoryLimit = v
	}
}

// resolveProvider fills Credential and Endpoint for the current provider.
func (cfg *Config) resolveProvider() {
	cfg.Credential = cfg.APIKey
	if cfg.Credential == "" {
		for _, name := range apiKeyEnv(cfg.Provider) {
			if v := os.Getenv(name); v != "" {
				cfg.Credential = v
				break
			}
		}
	}

	// Azure base URL fallback
	cfg.Endpoint = cfg.BaseURL
	if cfg.Endpoint == "" {
		if rn := os.Getenv("AZURE_RESOURCE_NAME"); rn != "" {
			switch cfg.Provider {
			case "anthropic":
				cfg.Endpoint = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
			case "openai":
				cfg.Endpoint = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
			}
		}
	}
}

// apiKeyEnv lists the conventional API key variables for a provider.
func apiKeyEnv(provider string) []string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "gemini":
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	default:
		return []string{"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
