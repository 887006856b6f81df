package model

import "github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"

// Slot is one booking or owner block covering [Time, Time+Duration) on Date.
type Slot struct {
	Date     timeofday.Date `json:"date" bson:"date"`
	Time     timeofday.Time `json:"time" bson:"time"`
	Duration int            `json:"duration" bson:"duration"`
	Type     SlotType       `json:"type" bson:"type"`
	Name     string         `json:"name,omitempty" bson:"name,omitempty"`
	// Nonce roots the ownership token of this slot. Never sent to clients.
	Nonce string `json:"nonce,omitempty" bson:"nonce,omitempty"`
}

// SlotIdentity locates a slot on a page.
type SlotIdentity struct {
	Date     timeofday.Date `json:"date"`
	Time     timeofday.Time `json:"time"`
	Duration int            `json:"duration"`
}

func (s Slot) End() timeofday.Time {
	return s.Time.Add(s.Duration)
}

func (s Slot) Identity() SlotIdentity {
	return SlotIdentity{Date: s.Date, Time: s.Time, Duration: s.Duration}
}

func (s Slot) Matches(id SlotIdentity) bool {
	return s.Date == id.Date && s.Time == id.Time && s.Duration == id.Duration
}

// Public strips the slot nonce.
func (s Slot) Public() Slot {
	s.Nonce = ""
	return s
}

// FindSlot returns the index of the first slot matching id, or -1.
func FindSlot(slots []Slot, id SlotIdentity) int {
	for i, s := range slots {
		if s.Matches(id) {
			return i
		}
	}
	return -1
}
