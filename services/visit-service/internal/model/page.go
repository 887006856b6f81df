package model

import (
	"time"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

// Period names one of the three time-of-day windows a page can offer.
type Period string

const (
	Morning   Period = "morning"
	Afternoon Period = "afternoon"
	Evening   Period = "evening"
)

// Periods lists the periods in day order; lookups iterate in this order.
var Periods = []Period{Morning, Afternoon, Evening}

func (p Period) Valid() bool {
	switch p {
	case Morning, Afternoon, Evening:
		return true
	}
	return false
}

type SlotType string

const (
	SlotTaken   SlotType = "taken"
	SlotBlocked SlotType = "blocked"
)

// DefaultRangeDays is how long a page stays bookable when no end date is set.
const DefaultRangeDays = 14

// WindowRule is the owner supplied window, possibly with unpadded hours ("9:00").
type WindowRule struct {
	From string `json:"from" bson:"from"`
	To   string `json:"to" bson:"to"`
}

// Page is one owner's bookable record. The document layout doubles as the
// persisted format for every store.
type Page struct {
	Reference string `json:"reference" bson:"_id"`
	// Nonce roots every manage token for this page. Never sent to clients.
	Nonce   string `json:"nonce,omitempty" bson:"nonce"`
	Version int64  `json:"version,omitempty" bson:"version"`

	Name        string `json:"name,omitempty" bson:"name,omitempty"`
	Email       string `json:"email,omitempty" bson:"email,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	DateFrom timeofday.Date `json:"date_from" bson:"date_from"`
	DateTo   timeofday.Date `json:"date_to,omitempty" bson:"date_to,omitempty"`

	Windows map[Period]WindowRule `json:"windows,omitempty" bson:"windows,omitempty"`
	// Capacities caps slots per period and date. A missing entry means
	// unlimited; an explicit 0 disables the period altogether.
	Capacities map[Period]int `json:"capacities,omitempty" bson:"capacities,omitempty"`
	Duration   int            `json:"duration" bson:"duration"`

	Slots []Slot `json:"slots" bson:"slots"`

	CreatedAt time.Time `json:"created_at,omitzero" bson:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero" bson:"updated_at,omitempty"`
}

// LastDate is DateTo, or DateFrom plus DefaultRangeDays when DateTo is unset.
func (p *Page) LastDate() timeofday.Date {
	if p.DateTo != "" {
		return p.DateTo
	}
	return p.DateFrom.AddDays(DefaultRangeDays)
}

// InRange reports whether d lies in [DateFrom, LastDate].
func (p *Page) InRange(d timeofday.Date) bool {
	return !d.Before(p.DateFrom) && !d.After(p.LastDate())
}

// Dates lists every bookable date of the page.
func (p *Page) Dates() []timeofday.Date {
	return timeofday.DateRange(p.DateFrom, p.LastDate())
}

// Redacted returns a copy safe to send to a client. Nonces are always removed;
// guest names and the owner's email only survive for the owner.
func (p *Page) Redacted(owner bool) *Page {
	out := *p
	out.Nonce = ""
	if !owner {
		out.Email = ""
	}
	out.Slots = make([]Slot, len(p.Slots))
	for i, s := range p.Slots {
		s.Nonce = ""
		if !owner {
			s.Name = ""
		}
		out.Slots[i] = s
	}
	out.Windows = cloneMap(p.Windows)
	out.Capacities = cloneMap(p.Capacities)
	return &out
}

// Clone deep copies the page so callers can mutate slots freely.
func (p *Page) Clone() *Page {
	out := *p
	out.Slots = append([]Slot(nil), p.Slots...)
	out.Windows = cloneMap(p.Windows)
	out.Capacities = cloneMap(p.Capacities)
	return &out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
