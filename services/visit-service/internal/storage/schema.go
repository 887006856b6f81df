package storage

// Migrations creates the Postgres tables of the visit service.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		reference  TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id           BIGSERIAL PRIMARY KEY,
		event_id     UUID NOT NULL UNIQUE,
		aggregate_id TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      JSONB NOT NULL,
		traceparent  TEXT NOT NULL DEFAULT '',
		tracestate   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx
		ON outbox_events (id) WHERE published_at IS NULL`,
}
