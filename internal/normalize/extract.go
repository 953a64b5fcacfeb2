// Package normalize turns raw provider output into the canonical Decision and
// SignExtraction types.
//
// Providers are told to answer with pure JSON but frequently wrap it in prose
// or markdown. Everything here is deliberately permissive about the wrapping
// and strict about the one field that matters: a decision without a boolean
// can_park never becomes a Decision.
package normalize

import (
	"strings"

	"github.com/timvw/park-patrol/internal/model"
)

// ExtractObject returns the substring between the first '{' and the last '}'
// of raw. Anything outside that span (prose, code fences) is discarded.
func ExtractObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return "", &model.Error{
			Op:     "extract json",
			Err:    model.ErrMalformedResponse,
			Detail: "no JSON object found",
			Raw:    raw,
		}
	}
	return raw[start : end+1], nil
}
