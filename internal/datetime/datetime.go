// Package datetime holds the calendar-day helpers shared by the layout
// engines, the form parser and the board buckets. All functions work in the
// location of their argument.
package datetime

import (
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days keeping the wall clock, so DST
// transitions do not shift the hour.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	y1, m1, d1 := a.In(loc).Date()
	y2, m2, d2 := b.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// StartOfWeek returns midnight of the first day of t's week, where weekStart
// is either time.Monday or time.Sunday.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return AddDays(day, -offset)
}

// EndOfWeek returns midnight of the last day of t's week.
func EndOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	return AddDays(StartOfWeek(t, weekStart), 6)
}

// WeekDays returns the seven day starts of t's week.
func WeekDays(t time.Time, weekStart time.Weekday) []time.Time {
	first := StartOfWeek(t, weekStart)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = AddDays(first, i)
	}
	return days
}

// MinutesSinceMidnight returns the wall-clock minute of t in loc.
func MinutesSinceMidnight(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}

// ParseWeekday maps the config values "monday" and "sunday"; everything else
// is Monday.
func ParseWeekday(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// IsBrazilian reports whether locale is Brazilian Portuguese.
func IsBrazilian(locale string) bool {
	l := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	return l == "pt-br"
}

// FormatLocal renders t in loc using the date order of locale.
func FormatLocal(t time.Time, loc *time.Location, locale string) string {
	if loc == nil {
		loc = time.Local
	}
	layout := "2006-01-02 15:04"
	switch {
	case IsBrazilian(locale):
		layout = "02/01/2006 15:04"
	case strings.HasPrefix(strings.ToLower(locale), "en-us"):
		layout = "01/02/2006 3:04 PM"
	}
	return t.In(loc).Format(layout)
}

// LoadLocation resolves an IANA name, falling back to time.Local.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
