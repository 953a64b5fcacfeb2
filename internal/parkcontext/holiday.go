package parkcontext

import "time"

// HolidayChecker reports whether parking rules treat t as a holiday.
type HolidayChecker interface {
	IsHoliday(t time.Time) bool
}

// HolidayFunc adapts a function to HolidayChecker.
type HolidayFunc func(time.Time) bool

func (f HolidayFunc) IsHoliday(t time.Time) bool { return f(t) }

// USHolidays recognizes the federal holidays most parking signs exempt,
// evaluated in t's own location: fixed-date New Year's Day, Independence Day,
// Christmas and New Year's Eve, plus Memorial Day, Labor Day and Thanksgiving.
type USHolidays struct{}

func (USHolidays) IsHoliday(t time.Time) bool {
	month, day, weekday := t.Month(), t.Day(), t.Weekday()

	switch {
	case month == time.January && day == 1,
		month == time.July && day == 4,
		month == time.December && day == 25,
		month == time.December && day == 31:
		return true
	case month == time.May && weekday == time.Monday && day > 24:
		// last Monday of May
		return true
	case month == time.September && weekday == time.Monday && day <= 7:
		return true
	case month == time.November && weekday == time.Thursday && day >= 22 && day <= 28:
		return true
	}
	return false
}
