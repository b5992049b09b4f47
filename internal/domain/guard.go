package domain

import (
	"strings"
	"time"
)

// EditWindowDays is how far back a non-admin may still change an activity.
const EditWindowDays = 7

const dateLayout = "2006-01-02"

// AuthorizeEdit decides whether the actor may modify or delete an activity dated on the given calendar date.
// The calendar day of date is read in date's own location, so midnight UTC and midnight in loc name the same day.
// Admins are always authorized. Everyone else is limited to [today-7, today] in loc.
func AuthorizeEdit(actor Actor, date, now time.Time, loc *time.Location) error {
	if actor.IsAdmin() {
		return nil
	}
	today := CalendarDate(now, loc)
	day := CalendarDate(date, date.Location())
	age := int(today.Sub(day).Hours() / 24)
	if age < 0 || age > EditWindowDays {
		return ErrEditWindow
	}
	return nil
}

// AuthorizeEditInput applies AuthorizeEdit to a raw client-supplied date.
// A date that cannot be parsed is let through; callers reject it later when they need the value.
func AuthorizeEditInput(actor Actor, raw string, now time.Time, loc *time.Location) error {
	if actor.IsAdmin() {
		return nil
	}
	date, err := ParseDate(raw, loc)
	if err != nil {
		return nil
	}
	return AuthorizeEdit(actor, date, now, loc)
}

// ParseDate accepts either a plain calendar date or an RFC3339 timestamp and
// returns the calendar date it falls on in loc, as midnight UTC.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return CalendarDate(t, loc), nil
}

// CalendarDate truncates t to its calendar day in loc and re-expresses it as midnight UTC,
// so that day arithmetic never crosses a DST boundary.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
