package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

// Event types double as Kafka topic names.
const (
	TypeVisitBooked    = "visit.booked.v1"
	TypeVisitCancelled = "visit.cancelled.v1"
	TypePageDeleted    = "page.deleted.v1"
)

// Event is the envelope handed to a Notifier. AggregateID is the page reference
// and becomes the Kafka message key.
type Event struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
}

// SlotPayload is the body of visit events. It never carries nonces.
type SlotPayload struct {
	Reference  string    `json:"reference"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Duration   int       `json:"duration"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	OwnerEmail string    `json:"owner_email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type PagePayload struct {
	Reference  string    `json:"reference"`
	OccurredAt time.Time `json:"occurred_at"`
}

func VisitBooked(page *model.Page, slot model.Slot, at time.Time) (Event, error) {
	return slotEvent(TypeVisitBooked, page, slot, at)
}

func VisitCancelled(page *model.Page, slot model.Slot, at time.Time) (Event, error) {
	return slotEvent(TypeVisitCancelled, page, slot, at)
}

func PageDeleted(reference string, at time.Time) (Event, error) {
	return newEvent(TypePageDeleted, reference, PagePayload{Reference: reference, OccurredAt: at.UTC()})
}

func slotEvent(eventType string, page *model.Page, slot model.Slot, at time.Time) (Event, error) {
	return newEvent(eventType, page.Reference, SlotPayload{
		Reference:  page.Reference,
		Date:       string(slot.Date),
		Time:       string(slot.Time),
		Duration:   slot.Duration,
		Type:       string(slot.Type),
		Name:       slot.Name,
		OwnerEmail: page.Email,
		OccurredAt: at.UTC(),
	})
}

func newEvent(eventType, aggregateID string, body any) (Event, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
	}, nil
}
