// Package calendar holds the pure booking-calendar rules: weekend/holiday
// classification, batch designated days and the booking cutoff instant.
// It never touches the store; special-day overrides are passed in by the
// caller so every rule stays testable as a plain function of its inputs.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for booking dates.
const DateLayout = "2006-01-02"

// Special-day override kinds.
const (
	OverrideHoliday = "holiday"
	OverrideWorking = "working"
)

// Policy evaluates calendar rules for a fixed office timezone and cutoff
// hour. The cutoff hour is configuration, not a constant: the office kept
// changing its mind about it.
type Policy struct {
	CutoffHour int
	Loc        *time.Location
}

func New(cutoffHour int, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	return &Policy{CutoffHour: cutoffHour, Loc: loc}
}

// ParseDate parses a YYYY-MM-DD date in the office timezone.
func (p *Policy) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, p.Loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return t, nil
}

// IsHoliday reports whether date is a non-working day. Weekends are
// holidays unless a "working" override exists; a weekday with a "holiday"
// override is a holiday.
func (p *Policy) IsHoliday(date string, overrides map[string]string) (bool, error) {
	t, err := p.ParseDate(date)
	if err != nil {
		return false, err
	}

	switch overrides[date] {
	case OverrideWorking:
		return false, nil
	case OverrideHoliday:
		return true, nil
	}

	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday, nil
}

// IsDesignatedDay reports whether date is a designated day for batch.
// Batch 1 owns Mon-Wed, batch 2 owns Thu-Fri. Holidays are never
// designated days.
func (p *Policy) IsDesignatedDay(batch int, date string, overrides map[string]string) (bool, error) {
	holiday, err := p.IsHoliday(date, overrides)
	if err != nil {
		return false, err
	}
	if holiday {
		return false, nil
	}

	t, _ := p.ParseDate(date)
	switch batch {
	case 1:
		return t.Weekday() >= time.Monday && t.Weekday() <= time.Wednesday, nil
	case 2:
		return t.Weekday() == time.Thursday || t.Weekday() == time.Friday, nil
	}
	return false, nil
}

// CutoffInstant returns the moment floating bookings for date unlock (and
// before which only designated bookings are allowed): CutoffHour on the
// previous day. For Mondays the cutoff sits three days back, on the
// preceding Friday, because the weekend offers no business-day cutoff.
func (p *Policy) CutoffInstant(date string) (time.Time, error) {
	t, err := p.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}

	days := 1
	if t.Weekday() == time.Monday {
		days = 3
	}

	return time.Date(t.Year(), t.Month(), t.Day()-days, p.CutoffHour, 0, 0, 0, p.Loc), nil
}

// ReleaseDeadline is the instant after which unclaimed designated seats
// convert into floating capacity. It coincides with CutoffInstant.
func (p *Policy) ReleaseDeadline(date string) (time.Time, error) {
	return p.CutoffInstant(date)
}
