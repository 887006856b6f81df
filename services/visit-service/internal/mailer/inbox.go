package mailer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/visitwindow/libs/db"
)

// Migrations creates the inbox used to drop redelivered events.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS inbox_events (
		event_id    TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

type Inbox interface {
	// Record reports false when eventID was seen before.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

type InboxRepository struct {
	pool *db.Pool
}

func NewInboxRepository(pool *db.Pool) *InboxRepository {
	return &InboxRepository{pool: pool}
}

func (r *InboxRepository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// noInbox accepts every event; redeliveries then send duplicate mail.
type noInbox struct{}

func (noInbox) Record(context.Context, string, string) (bool, error) { return true, nil }
