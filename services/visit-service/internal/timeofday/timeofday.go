// Package timeofday models wall-clock times ("HH:MM") and calendar dates
// ("YYYY-MM-DD") as canonical strings.
//
// A canonical Time is zero padded, so lexicographic order equals chronological
// order and comparisons are done on the strings themselves. Minutes past
// midnight are only used for arithmetic.
package timeofday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time is a zero padded "HH:MM" wall-clock time. Results of arithmetic may
// exceed 23:59 (an interval ending at 24:30), which still orders correctly.
type Time string

// Date is a calendar day, "YYYY-MM-DD".
type Date string

const (
	dateLayout    = "2006-01-02"
	altDateLayout = "02-01-2006"

	MinutesPerDay = 24 * 60
)

// Parse accepts "H:MM" or "HH:MM" and returns the canonical form. 24:00 is
// accepted as an end-of-day bound.
func Parse(s string) (Time, error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 || !digits(h) || !digits(m) {
		return "", fmt.Errorf("timeofday: invalid time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return "", fmt.Errorf("timeofday: invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return "", fmt.Errorf("timeofday: invalid minute in %q", s)
	}
	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return "", fmt.Errorf("timeofday: time out of range %q", s)
	}
	return FromMinutes(hour*60 + minute), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FromMinutes formats minutes past midnight as "HH:MM".
func FromMinutes(minutes int) Time {
	return Time(fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
}

// Minutes returns minutes past midnight. t must be canonical.
func (t Time) Minutes() int {
	h, m, _ := strings.Cut(string(t), ":")
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	return hour*60 + minute
}

// Add returns t shifted by delta minutes.
func (t Time) Add(delta int) Time {
	return FromMinutes(t.Minutes() + delta)
}

func (t Time) Before(u Time) bool { return t < u }
func (t Time) After(u Time) bool  { return t > u }

func (t Time) String() string { return string(t) }

// Step is the grid granularity for a visit duration: 15 minutes for visits
// shorter than half an hour, 30 otherwise.
func Step(duration int) int {
	if duration < 30 {
		return 15
	}
	return 30
}

// ParseDate accepts "YYYY-MM-DD" and returns it unchanged when valid.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("timeofday: invalid date %q", s)
	}
	return Date(t.Format(dateLayout)), nil
}

// ParseLenientDate also accepts the legacy "DD-MM-YYYY" form found in old records.
func ParseLenientDate(s string) (Date, error) {
	if d, err := ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(altDateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("timeofday: invalid date %q", s)
	}
	return Date(t.Format(dateLayout)), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in UTC.
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

// AddDays returns d shifted by n whole days. d must be valid.
func (d Date) AddDays(n int) Date {
	t, _ := time.Parse(dateLayout, string(d))
	return Date(t.AddDate(0, 0, n).Format(dateLayout))
}

func (d Date) Before(e Date) bool { return d < e }
func (d Date) After(e Date) bool  { return d > e }

func (d Date) String() string { return string(d) }

// DateRange lists every day from from to to, both inclusive, ascending. It is
// empty when to is before from. Days are stepped in UTC so DST never skips or
// repeats a date.
func DateRange(from, to Date) []Date {
	start, err := time.Parse(dateLayout, string(from))
	if err != nil {
		return nil
	}
	end, err := time.Parse(dateLayout, string(to))
	if err != nil || end.Before(start) {
		return nil
	}
	days := int(end.Sub(start).Hours()/24) + 1
	out := make([]Date, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, Date(d.Format(dateLayout)))
	}
	return out
}
