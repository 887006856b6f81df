package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/visitwindow/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Notifier hands events to whatever delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// KafkaNotifier writes events straight to Kafka. It is used when pages live
// outside Postgres and there is no outbox table to write to. Writes are
// asynchronous: Notify only queues the message and delivery failures are
// logged by the writer's completion callback.
type KafkaNotifier struct {
	writer *kafka.Writer
}

const notifierBatchTimeout = 10 * time.Millisecond

func NewKafkaNotifier(brokers string, logger *slog.Logger) *KafkaNotifier {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}
	w := newWriter(list)
	w.Async = true
	w.BatchTimeout = notifierBatchTimeout
	w.Completion = func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Error("notification delivery failed", "topic", m.Topic, "reference", string(m.Key), "err", err)
		}
	}
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Notify(ctx context.Context, evt Event) error {
	return n.writer.WriteMessages(ctx, message(ctx, evt))
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only records that an event happened.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, evt Event) error {
	n.Logger.Info("notification event", "event_type", evt.EventType, "reference", evt.AggregateID, "event_id", evt.ID)
	return nil
}
