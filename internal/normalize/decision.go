package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/timvw/park-patrol/internal/model"
)

// Outcome is a normalized decision plus any field-level issues that were
// degraded to "absent" instead of failing the request.
type Outcome struct {
	Decision model.Decision
	// Issues holds non-fatal problems, e.g. wrapped model.ErrInvalidTimestamp.
	Issues []error
}

// fields is the loosely-typed intermediate form shared by the JSON and
// structured-generation paths.
type fields struct {
	canPark      bool
	duration     *int
	restrictions []string
	reason       string
	validUntil   *string
}

// DecodeDecision normalizes raw provider text into a Decision evaluated at the
// given instant. Only a missing or non-boolean can_park fails the call;
// malformed optional fields are dropped.
func DecodeDecision(raw string, evaluatedAt time.Time) (Outcome, error) {
	candidate, err := ExtractObject(raw)
	if err != nil {
		return Outcome{}, err
	}
	if !gjson.Valid(candidate) {
		return Outcome{}, &model.Error{
			Op:     "decode decision",
			Err:    model.ErrMalformedResponse,
			Detail: "candidate is not valid JSON",
			Raw:    raw,
		}
	}
	obj := gjson.Parse(candidate)
	if !obj.IsObject() {
		return Outcome{}, &model.Error{Op: "decode decision", Err: model.ErrMalformedResponse, Raw: raw}
	}

	canPark := obj.Get("can_park")
	if !canPark.Exists() {
		return Outcome{}, &model.Error{
			Op:     "decode decision",
			Err:    model.ErrSchemaViolation,
			Detail: "missing required field can_park",
			Raw:    raw,
		}
	}
	if canPark.Type != gjson.True && canPark.Type != gjson.False {
		return Outcome{}, &model.Error{
			Op:     "decode decision",
			Err:    model.ErrSchemaViolation,
			Detail: "can_park must be a boolean, got " + canPark.Type.String(),
			Raw:    raw,
		}
	}

	f := fields{
		canPark:      canPark.Bool(),
		duration:     durationField(obj.Get("duration")),
		restrictions: restrictionsField(obj.Get("restrictions")),
	}
	if r := obj.Get("reason"); r.Type == gjson.String {
		f.reason = r.Str
	}
	if v := obj.Get("valid_until"); v.Type == gjson.String {
		s := v.Str
		f.validUntil = &s
	}
	return finish(f, evaluatedAt), nil
}

// StructuredDecision is the typed output of structured generation. Field
// semantics match the JSON wire shape.
type StructuredDecision struct {
	CanPark      bool     `json:"can_park"`
	Duration     *int     `json:"duration"`
	Restrictions []string `json:"restrictions"`
	Reason       string   `json:"reason"`
	ValidUntil   *string  `json:"valid_until"`
}

// FromStructured applies the normalization rules to already-typed output.
func FromStructured(s StructuredDecision, evaluatedAt time.Time) Outcome {
	f := fields{
		canPark:      s.CanPark,
		reason:       s.Reason,
		validUntil:   s.ValidUntil,
		restrictions: cleanRestrictions(s.Restrictions),
	}
	if s.Duration != nil && *s.Duration >= 0 {
		d := *s.Duration
		f.duration = &d
	}
	return finish(f, evaluatedAt)
}

func finish(f fields, evaluatedAt time.Time) Outcome {
	out := Outcome{Decision: model.Decision{
		CanPark:         f.canPark,
		DurationMinutes: f.duration,
		Restrictions:    f.restrictions,
	}}
	if out.Decision.Restrictions == nil {
		out.Decision.Restrictions = []string{}
	}
	if r := strings.TrimSpace(f.reason); r != "" {
		out.Decision.Reason = &r
	}

	if f.validUntil == nil {
		return out
	}
	until, err := ParseTimestamp(*f.validUntil, evaluatedAt.Location())
	if err != nil {
		out.Issues = append(out.Issues, err)
		return out
	}
	if until == nil || !f.canPark {
		return out
	}
	if !evaluatedAt.IsZero() && until.Before(evaluatedAt) {
		out.Issues = append(out.Issues, &model.Error{
			Op:     "decode decision",
			Err:    model.ErrInvalidTimestamp,
			Detail: "valid_until " + until.Format(time.RFC3339) + " is before evaluation time",
		})
		return out
	}
	out.Decision.ValidUntil = until
	return out
}

// durationField accepts non-negative whole numbers, including numeric strings.
// Anything else is treated as "no duration".
func durationField(r gjson.Result) *int {
	var n float64
	switch r.Type {
	case gjson.Number:
		n = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return nil
		}
		n = v
	default:
		return nil
	}
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return nil
	}
	d := int(n)
	return &d
}

func restrictionsField(r gjson.Result) []string {
	if !r.IsArray() {
		return []string{}
	}
	var out []string
	for _, item := range r.Array() {
		if item.Type != gjson.String {
			continue
		}
		out = append(out, item.Str)
	}
	return cleanRestrictions(out)
}

func cleanRestrictions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
