package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/timvw/park-patrol/internal/model"
)

// OpenAIClient talks to an OpenAI-compatible Chat Completions API.
// Works with OpenAI, Azure OpenAI, and local servers such as Ollama.
type OpenAIClient struct {
	client         openai.Client
	model          string
	maxTokens      int64
	legacyMaxToken bool
	log            *slog.Logger
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	// BaseURL is the API endpoint.
	BaseURL string
	// APIKey is the API key. Local servers usually accept any value.
	APIKey string
	// Model is the model name (e.g., "gpt-4o-mini").
	Model string
	// MaxTokens is the maximum number of completion tokens.
	MaxTokens int64
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// for compatible servers that only know the older field.
	LegacyMaxTokens bool
	// ExtraHeaders are additional HTTP headers.
	ExtraHeaders map[string]string
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
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

	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		model:          cfg.Model,
		maxTokens:      maxTokens,
		legacyMaxToken: cfg.LegacyMaxTokens,
		log:            cfg.Logger,
	}
}

// Provider returns "openai".
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	ctx, span := startSpan(ctx, "openai", c.model, maxTokens, req)
	defer span.End()

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	if req.Image != nil {
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.Prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    req.Image.DataURI(),
				Detail: "high",
			}),
		}))
	} else {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.legacyMaxToken {
		params.MaxTokens = openai.Int(maxTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Strict: openai.Bool(req.Schema.Strict),
					Schema: req.Schema.Definition,
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.SetAttributes(errorType("api_error"))
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, upstreamError(ctx, "openai chat", apiErr.StatusCode, responseBody(apiErr.Response, apiErr.RawJSON()), err)
		}
		return nil, upstreamError(ctx, "openai chat", 0, "", err)
	}

	if len(resp.Choices) == 0 {
		span.SetAttributes(errorType("empty_response"))
		return nil, emptyResponse("openai chat")
	}

	out := &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		ID:           resp.ID,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	endSpan(span, out)
	logExchange(c.log, "openai", req, out)
	return out, nil
}

// Ping lists models, which needs a valid key but no tokens.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return upstreamError(ctx, "openai models", apiErr.StatusCode, responseBody(apiErr.Response, apiErr.RawJSON()), err)
		}
		return upstreamError(ctx, "openai models", 0, "", err)
	}
	return nil
}
