package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/timvw/park-patrol/internal/llm"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/ocr"
)

// Remote backends.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
)

// DefaultModels maps each remote backend to the model used when none is set.
var DefaultModels = map[string]string{
	BackendOpenAI:    "gpt-4o-mini",
	BackendAnthropic: "claude-sonnet-4-5",
	BackendGemini:    "gemini-2.5-flash",
}

// Settings is everything a Registry needs to build providers, except the
// credential, which is passed per call because it follows user preferences.
type Settings struct {
	// Backend selects the remote API: "openai" (default), "anthropic" or "gemini".
	Backend string
	// Model overrides the backend's default model.
	Model   string
	BaseURL string
	// MaxTokens caps remote completions. 0 uses the client default.
	MaxTokens    int64
	ExtraHeaders map[string]string

	// LocalBaseURL is an OpenAI-compatible endpoint serving the on-device
	// decision model (e.g., "http://localhost:11434/v1" for Ollama).
	LocalBaseURL string
	// LocalModel is the on-device decision model. Empty means none is installed.
	LocalModel string

	// Recognizer is the on-device OCR engine. nil makes local extraction fail
	// with model.ErrProviderUnavailable.
	Recognizer ocr.Recognizer

	HTTPClient *http.Client
	Logger     *slog.Logger
	Usage      UsageReporter
	Issues     IssueReporter
}

// Registry constructs providers for a selector. Construction never performs
// network or model calls.
type Registry struct {
	s Settings
}

func NewRegistry(s Settings) *Registry {
	if s.Backend == "" {
		s.Backend = BackendOpenAI
	}
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	return &Registry{s: s}
}

// Settings returns the registry's configuration.
func (r *Registry) Settings() Settings { return r.s }

// RemoteModel returns the model remote providers will call.
func (r *Registry) RemoteModel() string {
	if r.s.Model != "" {
		return r.s.Model
	}
	return DefaultModels[r.s.Backend]
}

// Vision builds the vision provider for sel.
func (r *Registry) Vision(sel model.Selector, credential string) (VisionProvider, error) {
	switch sel {
	case model.SelectorLocal:
		return NewLocalVision(r.s.Recognizer), nil
	case model.SelectorRemote:
		client, err := r.remoteClient(credential)
		if err != nil {
			return nil, err
		}
		return NewRemoteVision(client, r.s.Usage), nil
	default:
		return nil, &model.Error{Op: "build vision provider", Err: model.ErrUnknownSelector, Raw: string(sel)}
	}
}

// Decision builds the decision provider for sel.
func (r *Registry) Decision(sel model.Selector, credential string) (DecisionProvider, error) {
	switch sel {
	case model.SelectorLocal:
		return NewLocalDecision(r.localClient(), r.s.Issues)
	case model.SelectorRemote:
		client, err := r.remoteClient(credential)
		if err != nil {
			return nil, err
		}
		return NewRemoteDecision(client, r.s.Usage, r.s.Issues), nil
	default:
		return nil, &model.Error{Op: "build decision provider", Err: model.ErrUnknownSelector, Raw: string(sel)}
	}
}

// RemoteClient builds the remote transport, e.g. for availability probes.
func (r *Registry) RemoteClient(credential string) (llm.Client, error) {
	return r.remoteClient(credential)
}

// LocalClient returns the on-device model transport, or nil when no local
// model is configured.
func (r *Registry) LocalClient() llm.Client {
	return r.localClient()
}

func (r *Registry) remoteClient(credential string) (llm.Client, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &model.Error{Op: "build remote provider", Err: model.ErrMissingCredential, Detail: r.s.Backend + " API key is not set"}
	}
	name := r.RemoteModel()

	switch r.s.Backend {
	case BackendOpenAI:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:      r.s.BaseURL,
			APIKey:       credential,
			Model:        name,
			MaxTokens:    r.s.MaxTokens,
			ExtraHeaders: r.s.ExtraHeaders,
			HTTPClient:   r.s.HTTPClient,
			Logger:       r.s.Logger,
		}), nil
	case BackendAnthropic:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			BaseURL:      r.s.BaseURL,
			APIKey:       credential,
			Model:        name,
			MaxTokens:    r.s.MaxTokens,
			ExtraHeaders: r.s.ExtraHeaders,
			HTTPClient:   r.s.HTTPClient,
			Logger:       r.s.Logger,
		}), nil
	case BackendGemini:
		c, err := llm.NewGeminiClient(context.Background(), llm.GeminiConfig{
			BaseURL:    r.s.BaseURL,
			APIKey:     credential,
			Model:      name,
			MaxTokens:  r.s.MaxTokens,
			HTTPClient: r.s.HTTPClient,
			Logger:     r.s.Logger,
		})
		if err != nil {
			return nil, &model.Error{Op: "build remote provider", Err: model.ErrProviderUnavailable, Cause: err}
		}
		return c, nil
	default:
		return nil, &model.Error{
			Op:     "build remote provider",
			Err:    model.ErrProviderUnavailable,
			Detail: fmt.Sprintf("unsupported backend %q (supported: openai, anthropic, gemini)", r.s.Backend),
		}
	}
}

func (r *Registry) localClient() llm.Client {
	if strings.TrimSpace(r.s.LocalModel) == "" {
		return nil
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:         r.s.LocalBaseURL,
		APIKey:          "local",
		Model:           r.s.LocalModel,
		LegacyMaxTokens: true,
		HTTPClient:      r.s.HTTPClient,
		Logger:          r.s.Logger,
	})
}
