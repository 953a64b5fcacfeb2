package parkcontext

import (
	"testing"
	"time"

	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/prefs"
)

func TestUSHolidays(t *testing.T) {
	tests := []struct {
		date string
		want bool
	}{
		{"2026-01-01", true},
		{"2026-07-04", true},
		{"2026-12-25", true},
		{"2026-12-31", true},
		{"2026-05-25", true},  // Memorial Day
		{"2026-05-18", false}, // Monday, not the last one
		{"2026-09-07", true},  // Labor Day
		{"2026-09-14", false},
		{"2026-11-26", true}, // Thanksgiving
		{"2026-11-19", false},
		{"2026-03-10", false},
	}
	for _, tt := range tests {
		d, err := time.Parse("2006-01-02", tt.date)
		if err != nil {
			t.Fatal(err)
		}
		if got := (USHolidays{}).IsHoliday(d.Add(10 * time.Hour)); got != tt.want {
			t.Errorf("IsHoliday(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestBuildFromPreferences(t *testing.T) {
	store := prefs.NewMemoryStore(prefs.Snapshot{VehicleType: model.VehicleElectric, City: "Boston", State: "MA"})
	fixed := time.Date(2026, 7, 4, 14, 30, 0, 0, time.UTC)

	b := NewBuilder(store, WithClock(func() time.Time { return fixed }))
	pc := b.Build(Overrides{})

	if !pc.CurrentTime.Equal(fixed) {
		t.Errorf("CurrentTime: got %v, want %v", pc.CurrentTime, fixed)
	}
	if pc.VehicleType != model.VehicleElectric {
		t.Errorf("VehicleType: got %q, want %q", pc.VehicleType, model.VehicleElectric)
	}
	if !pc.IsHoliday {
		t.Error("IsHoliday: got false for July 4th")
	}
	if pc.Location == nil || pc.Location.City != "Boston" || pc.Location.State != "MA" {
		t.Errorf("Location: got %+v", pc.Location)
	}
}

func TestBuildOverridesAndDefaults(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	coords := &model.Coordinates{Latitude: 37.77, Longitude: -122.42}

	b := NewBuilder(nil, WithHolidays(HolidayFunc(func(time.Time) bool { return true })))
	pc := b.Build(Overrides{At: at, VehicleType: model.VehicleMotorcycle, Coordinates: coords})

	if pc.VehicleType != model.VehicleMotorcycle {
		t.Errorf("VehicleType: got %q", pc.VehicleType)
	}
	if !pc.IsHoliday {
		t.Error("custom holiday checker not consulted")
	}
	if pc.Location == nil || pc.Location.Coordinates != coords {
		t.Errorf("Location: got %+v", pc.Location)
	}

	pc = NewBuilder(nil, WithHolidays(nil)).Build(Overrides{At: at})
	if pc.VehicleType != model.VehicleSedan {
		t.Errorf("default VehicleType: got %q, want Sedan", pc.VehicleType)
	}
	if pc.Location != nil {
		t.Errorf("Location: got %+v, want nil", pc.Location)
	}
}

func TestBuildTimezone(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 07:00 UTC on Jan 1st is still Dec 31st in Los Angeles.
	at := time.Date(2027, 1, 1, 7, 0, 0, 0, time.UTC)
	pc := NewBuilder(nil, WithTimezone(la)).Build(Overrides{At: at})
	if pc.CurrentTime.Location() != la {
		t.Errorf("CurrentTime location: got %v", pc.CurrentTime.Location())
	}
	if pc.CurrentTime.Day() != 31 || !pc.IsHoliday {
		t.Errorf("got %v holiday=%v, want Dec 31 holiday", pc.CurrentTime, pc.IsHoliday)
	}
}
