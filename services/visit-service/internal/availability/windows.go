package availability

import (
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

// Window is a canonical time-of-day range.
type Window struct {
	From timeofday.Time `json:"from"`
	To   timeofday.Time `json:"to"`
}

// Windows holds the bookable windows of a page keyed by period.
type Windows map[model.Period]Window

// WindowsFor builds the bookable windows of a page. Hours are left padded,
// periods with an explicit capacity of 0 are dropped, and rules that do not
// parse are skipped (pages are validated on write).
func WindowsFor(p *model.Page) Windows {
	out := make(Windows, len(p.Windows))
	for _, period := range model.Periods {
		rule, ok := p.Windows[period]
		if !ok || rule.From == "" {
			continue
		}
		if c, ok := p.Capacities[period]; ok && c == 0 {
			continue
		}
		from, err := timeofday.Parse(rule.From)
		if err != nil {
			continue
		}
		to, err := timeofday.Parse(rule.To)
		if err != nil {
			continue
		}
		out[period] = Window{From: from, To: to}
	}
	return out
}

// Fits reports whether [t, t+duration) lies inside at least one window's
// [From, To). Comparison is on the canonical strings.
func Fits(w Windows, t timeofday.Time, duration int) bool {
	end := t.Add(duration)
	for _, win := range w {
		if t >= win.From && end <= win.To {
			return true
		}
	}
	return false
}

// PeriodOf returns the first period, in day order, whose [From, To] contains t.
// Both ends are inclusive here, unlike Fits.
func PeriodOf(w Windows, t timeofday.Time) (model.Period, bool) {
	for _, period := range model.Periods {
		win, ok := w[period]
		if !ok {
			continue
		}
		if t >= win.From && t <= win.To {
			return period, true
		}
	}
	return "", false
}

// Bounds returns the earliest window start and the latest window end.
func (w Windows) Bounds() (timeofday.Time, timeofday.Time, bool) {
	var from, to timeofday.Time
	found := false
	for _, win := range w {
		if !found || win.From < from {
			from = win.From
		}
		if !found || win.To > to {
			to = win.To
		}
		found = true
	}
	return from, to, found
}
