package availability

import (
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

// Grid is the display matrix of a page: every bookable date against every
// grid tick.
type Grid struct {
	Dates  []timeofday.Date                            `json:"dates"`
	Times  []timeofday.Time                            `json:"times"`
	States map[timeofday.Date]map[timeofday.Time]State `json:"states"`
}

// Ticks enumerates grid times from one step before the earliest window start
// to one step after the latest window end, rounded outward to the step.
func Ticks(w Windows, step int) []timeofday.Time {
	from, to, ok := w.Bounds()
	if !ok || step <= 0 {
		return nil
	}
	start := from.Minutes() - step
	start -= start % step
	if start < 0 {
		start = 0
	}
	end := to.Minutes() + step
	if r := end % step; r != 0 {
		end += step - r
	}
	if end > timeofday.MinutesPerDay {
		end = timeofday.MinutesPerDay
	}

	var out []timeofday.Time
	for m := start; m < end; m += step {
		out = append(out, timeofday.FromMinutes(m))
	}
	return out
}

// ComputeGrid tags every (date, tick) of the page with its SlotState.
func ComputeGrid(p *model.Page) Grid {
	w := WindowsFor(p)
	g := Grid{
		Dates:  p.Dates(),
		Times:  Ticks(w, timeofday.Step(p.Duration)),
		States: make(map[timeofday.Date]map[timeofday.Time]State),
	}
	if g.Times == nil {
		g.Times = []timeofday.Time{}
	}
	for _, d := range g.Dates {
		row := make(map[timeofday.Time]State, len(g.Times))
		for _, t := range g.Times {
			row[t] = SlotState(p, w, d, t)
		}
		g.States[d] = row
	}
	return g
}
