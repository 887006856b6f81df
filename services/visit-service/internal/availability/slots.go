package availability

import (
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

// Overlaps returns the first slot on date whose interval intersects
// [t, t+duration). Touching intervals do not overlap.
func Overlaps(slots []model.Slot, date timeofday.Date, t timeofday.Time, duration int) (model.Slot, bool) {
	end := t.Add(duration)
	for _, s := range slots {
		if s.Date != date {
			continue
		}
		// Half-open intervals: [t,end) and [s.Time,s.End()) intersect unless one ends before the other starts.
		if !(end <= s.Time || t >= s.End()) {
			return s, true
		}
	}
	return model.Slot{}, false
}

// IsFull reports whether the period containing t has reached its capacity on
// date. A time outside every window counts as full.
func IsFull(p *model.Page, w Windows, date timeofday.Date, t timeofday.Time) bool {
	period, ok := PeriodOf(w, t)
	if !ok {
		return true
	}
	capacity := p.Capacities[period]
	if capacity <= 0 {
		return false
	}
	win := w[period]
	count := 0
	for _, s := range p.Slots {
		if s.Date == date && s.Time >= win.From && s.Time <= win.To {
			count++
		}
	}
	return count >= capacity
}

// Stranded returns the slots of p that its current rules no longer admit: a
// date outside the page range, an interval outside every window, or a guest
// visit beyond its period's capacity. Owner blocks are exempt from capacity.
func Stranded(p *model.Page) []model.Slot {
	type dayPeriod struct {
		date   timeofday.Date
		period model.Period
	}
	w := WindowsFor(p)
	visits := map[dayPeriod]int{}
	var out []model.Slot
	for _, s := range p.Slots {
		if !p.InRange(s.Date) || !Fits(w, s.Time, s.Duration) {
			out = append(out, s)
			continue
		}
		if s.Type != model.SlotTaken {
			continue
		}
		period, _ := PeriodOf(w, s.Time)
		capacity := p.Capacities[period]
		if capacity <= 0 {
			continue
		}
		key := dayPeriod{s.Date, period}
		visits[key]++
		if visits[key] > capacity {
			out = append(out, s)
		}
	}
	return out
}
