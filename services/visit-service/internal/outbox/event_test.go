package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitwindow/libs/kafkax"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

func TestVisitEventsNeverCarryNonces(t *testing.T) {
	page := &model.Page{Reference: "abc12345", Nonce: "page-secret", Email: "owner@example.com"}
	slot := model.Slot{Date: "2024-01-10", Time: "10:00", Duration: 60, Type: model.SlotTaken, Name: "Ann", Nonce: "slot-secret"}

	evt, err := VisitBooked(page, slot, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("VisitBooked: %v", err)
	}
	if evt.EventType != TypeVisitBooked || evt.AggregateID != "abc12345" || evt.ID == "" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	if bytes.Contains(evt.Payload, []byte("secret")) {
		t.Fatalf("payload leaks a nonce: %s", evt.Payload)
	}

	var body SlotPayload
	if err := json.Unmarshal(evt.Payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Name != "Ann" || body.Time != "10:00" || body.OwnerEmail != "owner@example.com" {
		t.Fatalf("unexpected payload %+v", body)
	}
}

func TestMessageCarriesEventHeaders(t *testing.T) {
	evt, err := PageDeleted("abc12345", time.Now())
	if err != nil {
		t.Fatalf("PageDeleted: %v", err)
	}
	msg := message(context.Background(), evt)
	if msg.Topic != TypePageDeleted || string(msg.Key) != "abc12345" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != evt.ID {
		t.Fatalf("expected event id header, got %v", msg.Headers)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	evt, _ := PageDeleted("abc12345", time.Now())
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(buf.String(), TypePageDeleted) {
		t.Fatalf("expected event type in log, got %s", buf.String())
	}
}

func TestNewKafkaNotifierWithoutBrokers(t *testing.T) {
	if NewKafkaNotifier(" ", slog.Default()) != nil {
		t.Fatal("expected nil notifier without brokers")
	}
}

func TestKafkaNotifierQueuesWithoutWaitingForBatches(t *testing.T) {
	n := NewKafkaNotifier("localhost:9092", slog.Default())
	defer n.Close()
	if !n.writer.Async {
		t.Fatal("notifier writer must be asynchronous")
	}
	if n.writer.BatchTimeout > 50*time.Millisecond {
		t.Fatalf("batch timeout %s would delay requests", n.writer.BatchTimeout)
	}
	if n.writer.Completion == nil {
		t.Fatal("delivery failures must be reported")
	}
}
