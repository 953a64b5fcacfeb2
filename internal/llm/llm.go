// Package llm is the chat transport shared by the remote and local providers.
//
// Each backend sends one request per Complete call: SDK-level retries are
// disabled so a failed call surfaces immediately as model.ErrUpstream with the
// upstream status and body attached. Every call is wrapped in an OTel GenAI
// client span.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/park-patrol/internal/model"
)

// Client sends a single prompt, optionally with one image, and returns the
// model's text reply.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the backend name (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model name requests are sent to.
	Model() string
}

// Pinger is implemented by clients that can check reachability without
// spending tokens.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Request is one chat turn.
type Request struct {
	System string
	Prompt string
	// Image is sent alongside Prompt in the same user message.
	Image *Image
	// MaxTokens overrides the client default when > 0.
	MaxTokens int64
	// Schema requests structured output. Backends without native support
	// fall back to a JSON response mode and rely on the prompt.
	Schema *Schema
}

// Image is an inline image attachment.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURI returns the image as a base64 data URI.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Schema is a named JSON Schema for structured generation.
type Schema struct {
	Name       string
	Definition map[string]any
	Strict     bool
}

// Response is the model's reply.
type Response struct {
	Text         string
	Model        string
	ID           string
	FinishReason string
	Usage        model.TokenUsage
}

const defaultMaxTokens = 1024

var tracer = otel.Tracer("park-patrol/llm")

// startSpan opens a GenAI generation span following the OTel GenAI semantic
// conventions. Span name is "{operation} {model}".
func startSpan(ctx context.Context, provider, modelName string, maxTokens int64, req Request) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "chat "+modelName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", provider),
			attribute.String("gen_ai.request.model", modelName),
			attribute.Int64("gen_ai.request.max_tokens", maxTokens),
			attribute.Bool("park_patrol.request.has_image", req.Image != nil),
			attribute.Bool("park_patrol.request.structured", req.Schema != nil),

			// Langfuse-specific: ensure this shows as a "generation"
			attribute.String("langfuse.observation.type", "generation"),
		),
	)

	// image bytes are not recorded
	inputMessages := []map[string]string{
		{"role": "system", "content": req.System},
		{"role": "user", "content": req.Prompt},
	}
	if inputJSON, err := json.Marshal(inputMessages); err == nil {
		span.SetAttributes(attribute.String("gen_ai.input.messages", string(inputJSON)))
	}
	return ctx, span
}

func endSpan(span trace.Span, resp *Response) {
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if resp.ID != "" {
		span.SetAttributes(attribute.String("gen_ai.response.id", resp.ID))
	}
	if resp.FinishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{resp.FinishReason}))
	}
	outputMessages := []map[string]string{
		{"role": "assistant", "content": resp.Text},
	}
	if outputJSON, err := json.Marshal(outputMessages); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(outputJSON)))
	}
}

// upstreamError converts a transport failure into model.ErrUpstream.
// Cancellation is passed through untouched.
func upstreamError(ctx context.Context, op string, status int, body string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if status > 0 {
		return &model.Error{Op: op, Err: model.ErrUpstream, Status: status, Detail: httpStatusDetail(status), Raw: body}
	}
	return &model.Error{Op: op, Err: model.ErrUpstream, Cause: err}
}

// responseBody returns the upstream error body verbatim, falling back to the
// SDK's parsed copy when the body is gone.
func responseBody(res *http.Response, fallback string) string {
	if res == nil || res.Body == nil {
		return fallback
	}
	b, err := io.ReadAll(res.Body)
	if err != nil || len(b) == 0 {
		return fallback
	}
	return string(b)
}

func httpStatusDetail(status int) string {
	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}

func emptyResponse(op string) error {
	return &model.Error{Op: op, Err: model.ErrMalformedResponse, Detail: "empty response"}
}

func logExchange(log *slog.Logger, provider string, req Request, resp *Response) {
	if log == nil {
		return
	}
	log.Debug("llm exchange",
		"provider", provider,
		"model", resp.Model,
		"system", req.System,
		"prompt", req.Prompt,
		"has_image", req.Image != nil,
		"response", resp.Text,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
}

func errorType(t string) attribute.KeyValue {
	return attribute.String("error.type", t)
}
