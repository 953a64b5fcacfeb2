// Package prefs holds the user preferences the pipeline reacts to: which
// provider serves each capability, the remote credential and the vehicle and
// location facts fed into the parking context.
package prefs

import (
	"fmt"
	"strings"

	"github.com/timvw/park-patrol/internal/model"
)

// Snapshot is an immutable view of the preferences at one instant.
type Snapshot struct {
	Vision      model.Selector    `mapstructure:"vision" json:"vision"`
	Decision    model.Selector    `mapstructure:"decision" json:"decision"`
	Credential  string            `mapstructure:"credential" json:"-"`
	VehicleType model.VehicleType `mapstructure:"vehicle_type" json:"vehicle_type"`
	City        string            `mapstructure:"city" json:"city,omitempty"`
	State       string            `mapstructure:"state" json:"state,omitempty"`
}

// Defaults returns the preferences used before the user picks anything:
// on-device extraction, remote decision, sedan.
func Defaults() Snapshot {
	return Snapshot{
		Vision:      model.SelectorLocal,
		Decision:    model.SelectorRemote,
		VehicleType: model.VehicleSedan,
	}
}

// HasCredential reports whether a non-blank credential is set.
func (s Snapshot) HasCredential() bool {
	return strings.TrimSpace(s.Credential) != ""
}

// NeedsCredential reports whether either selector is remote.
func (s Snapshot) NeedsCredential() bool {
	return s.Vision == model.SelectorRemote || s.Decision == model.SelectorRemote
}

// ProvidersChanged reports whether moving from s to next requires rebinding
// providers. Vehicle and location changes do not.
func (s Snapshot) ProvidersChanged(next Snapshot) bool {
	return s.Vision != next.Vision || s.Decision != next.Decision || s.Credential != next.Credential
}

// Normalize canonicalizes selector aliases and the vehicle type, filling blanks
// from fallback.
func (s Snapshot) Normalize(fallback Snapshot) (Snapshot, error) {
	var err error
	if s.Vision, err = selectorOr(s.Vision, fallback.Vision); err != nil {
		return Snapshot{}, fmt.Errorf("vision: %w", err)
	}
	if s.Decision, err = selectorOr(s.Decision, fallback.Decision); err != nil {
		return Snapshot{}, fmt.Errorf("decision: %w", err)
	}
	if strings.TrimSpace(s.Credential) == "" {
		s.Credential = fallback.Credential
	}
	vt := s.VehicleType
	if vt == "" {
		vt = fallback.VehicleType
	}
	if s.VehicleType, err = model.ParseVehicleType(string(vt)); err != nil {
		return Snapshot{}, err
	}
	s.City = strings.TrimSpace(s.City)
	s.State = strings.TrimSpace(s.State)
	if s.City == "" {
		s.City = fallback.City
	}
	if s.State == "" {
		s.State = fallback.State
	}
	return s, nil
}

func selectorOr(s, fallback model.Selector) (model.Selector, error) {
	if strings.TrimSpace(string(s)) == "" {
		s = fallback
	}
	if s == "" {
		return model.SelectorLocal, nil
	}
	return model.ParseSelector(string(s))
}

// Listener receives the new snapshot after a change.
type Listener func(Snapshot)

// Store is the preference collaborator.
type Store interface {
	Snapshot() Snapshot
	// Subscribe registers fn for change notifications.
	Subscribe(fn Listener)
}
