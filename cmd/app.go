package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timvw/park-patrol/internal/config"
	"github.com/timvw/park-patrol/internal/history"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/ocr"
	"github.com/timvw/park-patrol/internal/orchestrator"
	telem "github.com/timvw/park-patrol/internal/otel"
	"github.com/timvw/park-patrol/internal/parkcontext"
	"github.com/timvw/park-patrol/internal/prefs"
	"github.com/timvw/park-patrol/internal/provider"
)

// app holds everything a subcommand needs to run checks.
type app struct {
	cfg      *config.Config
	tel      *telem.Telemetry
	metrics  *telem.Metrics
	registry *provider.Registry
	prefs    prefs.Store
	history  *history.Store
	cache    *orchestrator.ExtractionCache
	orch     *orchestrator.Orchestrator
}

// newApp wires the configured providers, preferences and telemetry into an
// orchestrator. Extra options are applied last.
func newApp(ctx context.Context, c *config.Config, extra ...orchestrator.Option) (*app, error) {
	telem.Version = Version

	// Initialize OTEL (no-op if no endpoint configured)
	tel, err := telem.Init(ctx, telem.Config{
		Endpoint: c.OTELEndpoint,
		Headers:  c.OTELHeaders,
	})
	if err != nil {
		logger.Warn("otel init failed", "error", err)
	} else if tel.Enabled() {
		logger.Debug("exporting telemetry", "endpoint", c.OTELEndpoint)
	}
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}

	a := &app{cfg: c, tel: tel, metrics: metrics}
	a.registry = provider.NewRegistry(a.settings())

	initial, err := c.Preferences()
	if err != nil {
		return nil, err
	}
	if c.PrefsFile != "" {
		fs, err := prefs.OpenFile(c.PrefsFile, prefs.WithDefaults(initial), prefs.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		a.prefs = fs
	} else {
		a.prefs = prefs.NewMemoryStore(initial)
	}

	a.history = history.NewStore(c.HistoryLimit, c.HistoryTTLDuration)
	a.cache = orchestrator.NewExtractionCache(c.CacheSize, c.CacheTTLDuration)

	var bopts []parkcontext.Option
	if c.Location != nil {
		bopts = append(bopts, parkcontext.WithTimezone(c.Location))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithContextBuilder(parkcontext.NewBuilder(a.prefs, bopts...)),
		orchestrator.WithRecorder(a.history),
		orchestrator.WithCache(a.cache),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithIDGenerator(uuid.NewString),
	}
	a.orch = orchestrator.New(a.registry, a.prefs, append(opts, extra...)...)
	return a, nil
}

// settings builds registry settings from config.
func (a *app) settings() provider.Settings {
	c := a.cfg
	s := provider.Settings{
		Backend:      c.Provider,
		Model:        c.Model,
		BaseURL:      c.Endpoint,
		MaxTokens:    c.MaxTokens,
		LocalBaseURL: c.LocalBaseURL,
		LocalModel:   c.LocalModel,
		Logger:       logger,
		Usage: func(ctx context.Context, p, m string, u model.TokenUsage) {
			a.metrics.RecordTokens(ctx, p, m, u.InputTokens, u.OutputTokens)
		},
		Issues: func(ctx context.Context, p string, issue error) {
			a.metrics.RecordIssue(ctx, p)
			logger.WarnContext(ctx, "model output issue", "provider", p, "issue", issue)
		},
	}

	// Azure endpoints need the key in an "api-key" header as well.
	if os.Getenv("AZURE_RESOURCE_NAME") != "" || isAzureEndpoint(c.Endpoint) {
		s.ExtraHeaders = map[string]string{"api-key": c.Credential}
	}

	if !strings.EqualFold(c.OCR, "none") {
		rec, err := ocr.FromName(strings.ToLower(c.OCR))
		if err != nil {
			logger.Debug("no OCR engine, local vision unavailable", "error", err)
		} else {
			s.Recognizer = rec
		}
	}
	return s
}

// timeoutContext bounds a check by the configured timeout.
func (a *app) timeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.TimeoutDuration > 0 {
		return context.WithTimeout(ctx, a.cfg.TimeoutDuration)
	}
	return context.WithCancel(ctx)
}

// close flushes telemetry.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.tel.Shutdown(ctx)
}

// isAzureEndpoint checks if a URL is an Azure endpoint.
func isAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
