package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/timvw/park-patrol/internal/model"
)

// AnthropicClient talks to the Anthropic Messages API.
// Works with both direct Anthropic API and Azure AI Foundry.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *slog.Logger
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	// BaseURL is the API endpoint (e.g., "https://resource.services.ai.azure.com/anthropic/v1").
	BaseURL string
	// APIKey is the API key.
	APIKey string
	// Model is the model name (e.g., "claude-sonnet-4-5").
	Model string
	// MaxTokens is the maximum number of output tokens.
	MaxTokens int64
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		log:       cfg.Logger,
	}
}

// Provider returns "anthropic".
func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

// Model returns the model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete sends one Messages API request. Schema is not sent: the Messages
// API has no JSON mode, so structured replies rely on the prompt.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	ctx, span := startSpan(ctx, "anthropic", c.model, maxTokens, req)
	defer span.End()

	var blocks []anthropic.ContentBlockParamUnion
	if req.Image != nil {
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.Image.MIMEType, req.Image.Base64()))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		span.SetAttributes(errorType("api_error"))
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, upstreamError(ctx, "anthropic messages", apiErr.StatusCode, responseBody(apiErr.Response, apiErr.RawJSON()), err)
		}
		return nil, upstreamError(ctx, "anthropic messages", 0, "", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		span.SetAttributes(errorType("empty_response"))
		return nil, emptyResponse("anthropic messages")
	}

	out := &Response{
		Text:         text.String(),
		Model:        string(resp.Model),
		ID:           resp.ID,
		FinishReason: string(resp.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	endSpan(span, out)
	logExchange(c.log, "anthropic", req, out)
	return out, nil
}

// Ping lists models, which needs a valid key but no tokens.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return upstreamError(ctx, "anthropic models", apiErr.StatusCode, responseBody(apiErr.Response, apiErr.RawJSON()), err)
		}
		return upstreamError(ctx, "anthropic models", 0, "", err)
	}
	return nil
}
