package mailer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/visitwindow/libs/kafkax"
	otelx "github.com/md-rashed-zaman/visitwindow/libs/otel"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
)

type Config struct {
	Brokers string
	GroupID string
	BaseURL string
}

// Consumer mails page owners about visits booked and cancelled on their page.
type Consumer struct {
	reader  *kafka.Reader
	inbox   Inbox
	sender  Sender
	baseURL string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New subscribes to the visit topics. A nil inbox disables deduplication.
func New(logger *slog.Logger, inbox Inbox, sender Sender, cfg Config) *Consumer {
	if inbox == nil {
		inbox = noInbox{}
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: []string{outbox.TypeVisitBooked, outbox.TypeVisitCancelled},
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:  reader,
		inbox:   inbox,
		sender:  sender,
		baseURL: cfg.BaseURL,
		logger:  logger,
		tracer:  otelx.Tracer("visit-mailer"),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		c.consume(ctx, msg)
	}
}

func (c *Consumer) consume(ctx context.Context, msg kafka.Message) {
	meta := kafkax.ExtractEventMeta(msg)
	ctx, span := c.tracer.Start(kafkax.ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("event.type", meta.EventType),
		),
	)
	defer span.End()

	fresh, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return
	}
	if err := c.Handle(ctx, meta.EventType, msg.Value); err != nil {
		c.logger.Error("mail handler failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Handle renders and sends the mail for one event body. Malformed bodies are
// logged and dropped.
func (c *Consumer) Handle(ctx context.Context, eventType string, body []byte) error {
	var payload outbox.SlotPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Error("invalid visit payload", "err", err, "event_type", eventType)
		return nil
	}
	msg, ok, err := Render(eventType, payload, c.baseURL)
	if err != nil {
		c.logger.Error("invalid visit payload", "err", err, "reference", payload.Reference)
		return nil
	}
	if !ok {
		return nil
	}
	if err := c.sender.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		return err
	}
	c.logger.Info("owner mail sent", "event_type", eventType, "reference", payload.Reference)
	return nil
}
