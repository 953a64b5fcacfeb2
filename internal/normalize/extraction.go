package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/timvw/park-patrol/internal/model"
)

// ParseConfidence maps a confidence label to a model.Confidence.
// Matching is case-insensitive; unrecognized labels map to low.
func ParseConfidence(s string) model.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return model.ConfidenceHigh
	case "medium":
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// DecodeExtraction normalizes a vision provider's reply of the form
// {"sign_text": "...", "confidence": "high|medium|low"}.
func DecodeExtraction(raw string) (model.SignExtraction, error) {
	candidate, err := ExtractObject(raw)
	if err != nil {
		return model.SignExtraction{}, err
	}
	if !gjson.Valid(candidate) {
		return model.SignExtraction{}, &model.Error{
			Op:     "decode extraction",
			Err:    model.ErrMalformedResponse,
			Detail: "candidate is not valid JSON",
			Raw:    raw,
		}
	}
	obj := gjson.Parse(candidate)

	text := obj.Get("sign_text")
	if text.Type != gjson.String {
		return model.SignExtraction{}, &model.Error{
			Op:     "decode extraction",
			Err:    model.ErrSchemaViolation,
			Detail: "missing required field sign_text",
			Raw:    raw,
		}
	}
	if strings.TrimSpace(text.Str) == "" {
		return model.SignExtraction{}, &model.Error{Op: "decode extraction", Err: model.ErrNoTextFound, Raw: raw}
	}

	return model.SignExtraction{
		Text:       strings.TrimSpace(text.Str),
		Confidence: ParseConfidence(obj.Get("confidence").String()),
	}, nil
}
