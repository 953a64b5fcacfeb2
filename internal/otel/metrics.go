package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "park-patrol"

// Metrics holds all OTEL metric instruments for park-patrol.
// All counters are cumulative (monotonic) and safe for concurrent use.
// Every method is a no-op on a nil *Metrics.
type Metrics struct {
	// LLM token counters (partitioned by provider + model via attributes)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// Extraction cache counters
	ExtractionCacheHits   metric.Int64Counter
	ExtractionCacheMisses metric.Int64Counter
	ExtractionCachePurges metric.Int64Counter

	// Stage outcomes (partitioned by stage, provider kind and result)
	Stages        metric.Int64Counter
	StageDuration metric.Float64Histogram

	// Provider fallbacks and failed rebinds (partitioned by capability)
	Fallbacks     metric.Int64Counter
	RebindFailure metric.Int64Counter

	// Non-fatal normalization issues (e.g. dropped valid_until)
	NormalizationIssues metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	// --- LLM token counters ---

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	// --- Extraction cache counters ---

	m.ExtractionCacheHits, err = meter.Int64Counter("extraction_cache.hits",
		metric.WithDescription("Number of sign extractions served from cache (same image, same provider)"))
	if err != nil {
		return nil, err
	}

	m.ExtractionCacheMisses, err = meter.Int64Counter("extraction_cache.misses",
		metric.WithDescription("Number of extraction cache misses (new image, TTL expired, or provider changed)"))
	if err != nil {
		return nil, err
	}

	m.ExtractionCachePurges, err = meter.Int64Counter("extraction_cache.purges",
		metric.WithDescription("Number of extraction cache purges after a vision provider switch"))
	if err != nil {
		return nil, err
	}

	// --- Pipeline ---

	m.Stages, err = meter.Int64Counter("pipeline.stages",
		metric.WithDescription("Pipeline stage executions partitioned by stage, provider kind and outcome"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Pipeline stage latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Fallbacks, err = meter.Int64Counter("providers.fallbacks",
		metric.WithDescription("Number of times a capability was bound to the local provider because the preferred one could not be built"))
	if err != nil {
		return nil, err
	}

	m.RebindFailure, err = meter.Int64Counter("providers.rebind_failures",
		metric.WithDescription("Number of provider switches rejected because the new provider could not be built"))
	if err != nil {
		return nil, err
	}

	m.NormalizationIssues, err = meter.Int64Counter("normalize.issues",
		metric.WithDescription("Non-fatal problems in model output that were degraded to absent fields"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTokens records LLM token usage on the metric counters.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}

// RecordCacheHit records an extraction cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.ExtractionCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records an extraction cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.ExtractionCacheMisses.Add(ctx, 1)
}

// RecordCachePurge records a cache purge after a provider switch.
func (m *Metrics) RecordCachePurge(ctx context.Context) {
	if m == nil {
		return
	}
	m.ExtractionCachePurges.Add(ctx, 1)
}

// RecordStage records one stage execution. outcome is "ok" or an error kind.
func (m *Metrics) RecordStage(ctx context.Context, stage, kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("provider.kind", kind),
		attribute.String("outcome", outcome),
	)
	m.Stages.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, seconds, attrs)
}

// RecordFallback records a capability bound to its local provider.
func (m *Metrics) RecordFallback(ctx context.Context, capability string) {
	if m == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("capability", capability)))
}

// RecordRebindFailure records a rejected provider switch.
func (m *Metrics) RecordRebindFailure(ctx context.Context, capability string) {
	if m == nil {
		return
	}
	m.RebindFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("capability", capability)))
}

// RecordIssue records a non-fatal normalization issue.
func (m *Metrics) RecordIssue(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.NormalizationIssues.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
