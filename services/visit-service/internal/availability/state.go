package availability

import (
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

type State string

const (
	Disabled  State = "disabled"
	Taken     State = "taken"
	Full      State = "full"
	Available State = "available"
)

// Reason explains why a candidate slot is not bookable.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonOutsideWindow    Reason = "outside-window"
	ReasonOverlapping      Reason = "overlapping"
	ReasonOutsideDateRange Reason = "outside-date-range"
	ReasonOverCapacity     Reason = "over-capacity"
)

// Check evaluates a candidate [t, t+duration) on date against the page rules.
// The order is fixed: window fit, overlap with an existing slot, page date
// range, then period capacity. skipCapacity drops the last check.
func Check(p *model.Page, w Windows, date timeofday.Date, t timeofday.Time, duration int, skipCapacity bool) (State, Reason) {
	if !Fits(w, t, duration) {
		return Disabled, ReasonOutsideWindow
	}
	if _, ok := Overlaps(p.Slots, date, t, duration); ok {
		return Taken, ReasonOverlapping
	}
	if !p.InRange(date) {
		return Disabled, ReasonOutsideDateRange
	}
	if !skipCapacity && IsFull(p, w, date, t) {
		return Full, ReasonOverCapacity
	}
	return Available, ReasonNone
}

// SlotState is the display state of the grid tick at t on date. The tick is
// one grid step long.
func SlotState(p *model.Page, w Windows, date timeofday.Date, t timeofday.Time) State {
	state, _ := Check(p, w, date, t, timeofday.Step(p.Duration), false)
	return state
}
