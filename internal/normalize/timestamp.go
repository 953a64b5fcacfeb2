package normalize

import (
	"strings"
	"time"

	"github.com/timvw/park-patrol/internal/model"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Zone-less values are read in
// loc. It returns (nil, nil) for values meaning "not applicable": empty,
// "null", or containing the gap marker. Unparseable values yield a
// model.ErrInvalidTimestamp error.
func ParseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") || strings.Contains(s, model.GapMarker) {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, &model.Error{
		Op:     "parse valid_until",
		Err:    model.ErrInvalidTimestamp,
		Detail: "not an ISO-8601 timestamp",
		Raw:    s,
	}
}
