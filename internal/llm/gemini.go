package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"github.com/timvw/park-patrol/internal/model"
)

// GeminiClient talks to the Gemini API through the official genai client.
type GeminiClient struct {
	cli       *genai.Client
	model     string
	maxTokens int64
	log       *slog.Logger
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	// BaseURL overrides the API endpoint.
	BaseURL string
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model name (e.g., "gemini-2.5-flash").
	Model     string
	MaxTokens int64
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewGeminiClient creates a Gemini client. No request is made.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiClient{cli: cli, model: cfg.Model, maxTokens: maxTokens, log: cfg.Logger}, nil
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string {
	return "gemini"
}

// Model returns the model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// Complete sends one GenerateContent request. A Schema switches the reply to
// application/json; the schema itself is carried by the prompt.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	ctx, span := startSpan(ctx, "gemini", c.model, maxTokens, req)
	defer span.End()

	var parts []*genai.Part
	if req.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.cli.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		config,
	)
	if err != nil {
		span.SetAttributes(errorType("api_error"))
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, upstreamError(ctx, "gemini generate", apiErr.Code, apiErr.Message, err)
		}
		return nil, upstreamError(ctx, "gemini generate", 0, "", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		span.SetAttributes(errorType("empty_response"))
		return nil, emptyResponse("gemini generate")
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	out := &Response{
		Text:         text.String(),
		Model:        c.model,
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.TokenUsage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	endSpan(span, out)
	logExchange(c.log, "gemini", req, out)
	return out, nil
}

// Ping fetches the configured model's metadata.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.cli.Models.Get(ctx, c.model, nil); err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return upstreamError(ctx, "gemini models", apiErr.Code, apiErr.Message, err)
		}
		return upstreamError(ctx, "gemini models", 0, "", err)
	}
	return nil
}
