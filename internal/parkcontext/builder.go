// Package parkcontext assembles the ParkingContext a decision is made
// against, from preferences, a clock and a holiday calendar.
package parkcontext

import (
	"time"

	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/prefs"
)

// Preferences is the subset of prefs.Store the builder reads.
type Preferences interface {
	Snapshot() prefs.Snapshot
}

// Overrides replace individual context facts for one request.
type Overrides struct {
	At          time.Time
	VehicleType model.VehicleType
	Coordinates *model.Coordinates
}

// Builder creates a fresh ParkingContext per request.
type Builder struct {
	prefs    Preferences
	holidays HolidayChecker
	now      func() time.Time
	tz       *time.Location
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithHolidays sets the holiday calendar. nil disables holiday detection.
func WithHolidays(h HolidayChecker) Option {
	return func(b *Builder) { b.holidays = h }
}

// WithTimezone evaluates the current time in loc, so the model sees the local
// wall clock of the sign rather than the server's.
func WithTimezone(loc *time.Location) Option {
	return func(b *Builder) { b.tz = loc }
}

// NewBuilder returns a builder reading vehicle and location from p. The
// default holiday calendar is USHolidays.
func NewBuilder(p Preferences, opts ...Option) *Builder {
	b := &Builder{prefs: p, holidays: USHolidays{}, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the context for a request starting now.
func (b *Builder) Build(o Overrides) model.ParkingContext {
	at := o.At
	if at.IsZero() {
		at = b.now()
	}
	if b.tz != nil {
		at = at.In(b.tz)
	}

	var snap prefs.Snapshot
	if b.prefs != nil {
		snap = b.prefs.Snapshot()
	}

	vt := o.VehicleType
	if vt == "" {
		vt = snap.VehicleType
	}
	if vt == "" {
		vt = model.VehicleSedan
	}

	pc := model.ParkingContext{
		CurrentTime: at,
		VehicleType: vt,
	}
	if b.holidays != nil {
		pc.IsHoliday = b.holidays.IsHoliday(at)
	}
	if snap.City != "" || snap.State != "" || o.Coordinates != nil {
		pc.Location = &model.Location{City: snap.City, State: snap.State, Coordinates: o.Coordinates}
	}
	return pc
}
