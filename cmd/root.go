package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/timvw/park-patrol/internal/config"
	"github.com/timvw/park-patrol/internal/logging"
)

// Version is injected at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	// Global flags.
	flagConfig       string
	flagProvider     string
	flagModel        string
	flagBaseURL      string
	flagAPIKey       string
	flagMaxTokens    int64
	flagLocalBaseURL string
	flagLocalModel   string
	flagOCR          string
	flagVision       string
	flagDecision     string
	flagVehicle      string
	flagCity         string
	flagState        string
	flagTimezone     string
	flagPrefsFile    string
	flagTimeout      string
	flagLogLevel     string
	flagLogFormat    string
)

// Resolved by the root PersistentPreRunE for every subcommand.
var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "park-patrol",
	Short: "Read a parking sign photo and tell whether you can park",
	Long: `park-patrol reads a photo of a parking sign and decides whether you may
park there right now, for how long, and under which restrictions.

Reading the sign (vision) and interpreting the rules (decision) each run
either on this machine ("local") or through a remote model API ("remote").
Local vision uses an OCR engine; local decisions use an OpenAI-compatible
model server such as Ollama.

Configuration is loaded from .park-patrol.yaml, ~/.config/park-patrol/config.yaml
and PARK_PATROL_* environment variables. Flags override both.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: .park-patrol.yaml, then ~/.config/park-patrol/config.yaml)")
	pf.StringVar(&flagProvider, "provider", "", "remote LLM backend: openai, anthropic, gemini")
	pf.StringVar(&flagModel, "model", "", "remote model name (default: gpt-4o-mini, claude-sonnet-4-5 or gemini-2.5-flash)")
	pf.StringVar(&flagBaseURL, "base-url", "", "override remote API base URL")
	pf.StringVar(&flagAPIKey, "api-key", "", "remote API key")
	pf.Int64Var(&flagMaxTokens, "max-tokens", 0, "max completion tokens (default: 1024)")
	pf.StringVar(&flagLocalBaseURL, "local-base-url", "", "OpenAI-compatible endpoint for the on-device decision model")
	pf.StringVar(&flagLocalModel, "local-model", "", "on-device decision model name, e.g. llama3.2")
	pf.StringVar(&flagOCR, "ocr", "", "on-device OCR engine: auto, tesseract, none")
	pf.StringVar(&flagVision, "vision", "", "vision provider: local or remote")
	pf.StringVar(&flagDecision, "decision", "", "decision provider: local or remote")
	pf.StringVar(&flagVehicle, "vehicle", "", "vehicle type: sedan, suv, truck, motorcycle, commercial, electric")
	pf.StringVar(&flagCity, "city", "", "city the sign is in")
	pf.StringVar(&flagState, "state", "", "state or region the sign is in")
	pf.StringVar(&flagTimezone, "timezone", "", "IANA timezone for evaluating the sign (default: system)")
	pf.StringVar(&flagPrefsFile, "prefs", "", "preferences YAML file, watched for changes")
	pf.StringVar(&flagTimeout, "timeout", "", "per-check timeout, e.g. 60s (0 disables)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: text or json")
}

// loadConfig resolves configuration: defaults -> file -> env -> flags.
func loadConfig(cmd *cobra.Command, _ []string) error {
	// .env is optional; a malformed one is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	c, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	overrides := []struct {
		name string
		dst  *string
		val  string
	}{
		{"provider", &c.Provider, flagProvider},
		{"model", &c.Model, flagModel},
		{"base-url", &c.BaseURL, flagBaseURL},
		{"api-key", &c.APIKey, flagAPIKey},
		{"local-base-url", &c.LocalBaseURL, flagLocalBaseURL},
		{"local-model", &c.LocalModel, flagLocalModel},
		{"ocr", &c.OCR, flagOCR},
		{"vision", &c.Vision, flagVision},
		{"decision", &c.Decision, flagDecision},
		{"vehicle", &c.VehicleType, flagVehicle},
		{"city", &c.City, flagCity},
		{"state", &c.State, flagState},
		{"timezone", &c.Timezone, flagTimezone},
		{"prefs", &c.PrefsFile, flagPrefsFile},
		{"timeout", &c.Timeout, flagTimeout},
		{"log-level", &c.LogLevel, flagLogLevel},
		{"log-format", &c.LogFormat, flagLogFormat},
	}
	for _, o := range overrides {
		if flags.Changed(o.name) {
			*o.dst = o.val
		}
	}
	if flags.Changed("max-tokens") && flagMaxTokens > 0 {
		c.MaxTokens = flagMaxTokens
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.SetLevel(c.LogLevel)
	logger = logging.New(os.Stderr, c.LogFormat)
	slog.SetDefault(logger)
	if c.ConfigFile != "" {
		logger.Debug("config loaded", "file", c.ConfigFile)
	}
	cfg = c
	return nil
}
