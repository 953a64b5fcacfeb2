// Package provider implements the two pipeline capabilities, reading a sign
// ("vision") and interpreting it ("decision"), each in an on-device and a
// remote variant behind one interface.
//
// Providers are stateless between calls and safe for concurrent use. They are
// built by a Registry and never perform network or model calls at
// construction time.
package provider

import (
	"context"

	"github.com/timvw/park-patrol/internal/model"
)

// VisionProvider extracts verbatim sign text from an encoded image.
type VisionProvider interface {
	// Kind reports whether the provider runs locally or remotely.
	Kind() model.Selector

	// Name identifies the concrete backend (e.g., "tesseract", "openai/gpt-4o-mini").
	Name() string

	Extract(ctx context.Context, image []byte) (model.SignExtraction, error)
}

// DecisionProvider turns sign text plus context into a Decision.
type DecisionProvider interface {
	Kind() model.Selector
	Name() string

	Decide(ctx context.Context, signText string, pc model.ParkingContext) (model.Decision, error)
}

// UsageReporter receives token usage for every remote call.
type UsageReporter func(ctx context.Context, provider, modelName string, usage model.TokenUsage)

// IssueReporter receives non-fatal normalization issues, such as a dropped
// valid_until.
type IssueReporter func(ctx context.Context, provider string, issue error)
