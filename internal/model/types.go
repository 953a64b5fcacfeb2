package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Selector identifies which provider variant serves a capability.
type Selector string

const (
	// SelectorLocal runs the capability on-device.
	SelectorLocal Selector = "local"
	// SelectorRemote calls a remote model API.
	SelectorRemote Selector = "remote"
)

// ParseSelector parses a selector name case-insensitively.
// The labels "apple" and "openai" are accepted as aliases for local and remote.
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "apple", "on-device", "device":
		return SelectorLocal, nil
	case "remote", "openai", "api":
		return SelectorRemote, nil
	default:
		return "", &Error{Op: "parse selector", Err: ErrUnknownSelector, Raw: s}
	}
}

// Confidence is the vision stage's self-reported extraction quality.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SignExtraction is the verbatim text read off a parking sign.
type SignExtraction struct {
	// Text is the sign wording, line breaks preserved. Illegible spans are
	// marked with GapMarker.
	Text string `json:"sign_text"`
	// Confidence is the overall extraction confidence.
	Confidence Confidence `json:"confidence"`
}

// GapMarker stands in for text that could not be read.
const GapMarker = "[...]"

// VehicleType is the kind of vehicle being parked.
type VehicleType string

const (
	VehicleSedan      VehicleType = "Sedan"
	VehicleSUV        VehicleType = "SUV"
	VehicleTruck      VehicleType = "Truck"
	VehicleMotorcycle VehicleType = "Motorcycle"
	VehicleCommercial VehicleType = "Commercial"
	VehicleElectric   VehicleType = "Electric"
)

// VehicleTypes lists every supported vehicle type in display order.
var VehicleTypes = []VehicleType{
	VehicleSedan, VehicleSUV, VehicleTruck, VehicleMotorcycle, VehicleCommercial, VehicleElectric,
}

// ParseVehicleType matches a vehicle type case-insensitively.
// Empty input yields VehicleSedan.
func ParseVehicleType(s string) (VehicleType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VehicleSedan, nil
	}
	for _, v := range VehicleTypes {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown vehicle type %q", s)
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is where the sign was photographed. All fields are optional.
type Location struct {
	City        string       `json:"city,omitempty"`
	State       string       `json:"state,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// ParkingContext carries the situational facts a decision is made against.
// It is built fresh for every request and never persisted.
type ParkingContext struct {
	CurrentTime time.Time   `json:"current_time"`
	VehicleType VehicleType `json:"vehicle_type"`
	IsHoliday   bool        `json:"is_holiday"`
	Location    *Location   `json:"location,omitempty"`
}

// Decision is the canonical answer to "can I park here?".
type Decision struct {
	CanPark bool
	// DurationMinutes is the maximum stay; nil means no limit applies.
	DurationMinutes *int
	// Restrictions are plain-language summaries of the relevant rules.
	Restrictions []string
	Reason       *string
	// ValidUntil is when the car must be moved. Always nil when CanPark is false.
	ValidUntil *time.Time
}

// wireDecision is the snake_case shape exchanged with providers.
type wireDecision struct {
	CanPark      bool     `json:"can_park"`
	Duration     *int     `json:"duration"`
	Restrictions []string `json:"restrictions"`
	Reason       *string  `json:"reason"`
	ValidUntil   *string  `json:"valid_until"`
}

// MarshalJSON encodes the decision in the provider wire shape.
func (d Decision) MarshalJSON() ([]byte, error) {
	w := wireDecision{
		CanPark:      d.CanPark,
		Duration:     d.DurationMinutes,
		Restrictions: d.Restrictions,
		Reason:       d.Reason,
	}
	if w.Restrictions == nil {
		w.Restrictions = []string{}
	}
	if d.ValidUntil != nil {
		s := d.ValidUntil.Format(time.RFC3339Nano)
		w.ValidUntil = &s
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the provider wire shape strictly. Lenient decoding of
// model output lives in the normalize package.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Decision{
		CanPark:         w.CanPark,
		DurationMinutes: w.Duration,
		Restrictions:    w.Restrictions,
		Reason:          w.Reason,
	}
	if w.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339Nano, *w.ValidUntil)
		if err != nil {
			return fmt.Errorf("valid_until: %w", err)
		}
		out.ValidUntil = &t
	}
	*d = out
	return nil
}

// Equal reports whether two decisions carry the same values.
func (d Decision) Equal(o Decision) bool {
	if d.CanPark != o.CanPark || len(d.Restrictions) != len(o.Restrictions) {
		return false
	}
	for i := range d.Restrictions {
		if d.Restrictions[i] != o.Restrictions[i] {
			return false
		}
	}
	switch {
	case (d.DurationMinutes == nil) != (o.DurationMinutes == nil):
		return false
	case d.DurationMinutes != nil && *d.DurationMinutes != *o.DurationMinutes:
		return false
	case (d.Reason == nil) != (o.Reason == nil):
		return false
	case d.Reason != nil && *d.Reason != *o.Reason:
		return false
	case (d.ValidUntil == nil) != (o.ValidUntil == nil):
		return false
	case d.ValidUntil != nil && !d.ValidUntil.Equal(*o.ValidUntil):
		return false
	}
	return true
}

// TokenUsage tracks LLM token consumption for a single provider call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
