// Package backend opens the page store selected by configuration together
// with the matching notification path and readiness checks.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/visitwindow/libs/config"
	"github.com/md-rashed-zaman/visitwindow/libs/db"
	"github.com/md-rashed-zaman/visitwindow/libs/kafkax"
	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
)

const (
	KindPostgres = "postgres"
	KindMongo    = "mongo"
	KindMemory   = "memory"
)

type Config struct {
	Kind          string
	DatabaseURL   string
	MaxConns      int
	MongoURI      string
	MongoDatabase string
	KafkaBrokers  string
}

// ConfigFromEnv reads STORE and the settings of the chosen store.
func ConfigFromEnv() Config {
	return Config{
		Kind:          strings.ToLower(config.String("STORE", KindPostgres)),
		DatabaseURL:   config.String("DATABASE_URL", ""),
		MaxConns:      config.Int("DB_MAX_CONNS", 10, 1),
		MongoURI:      config.String("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: config.String("MONGO_DATABASE", "visitwindow"),
		KafkaBrokers:  config.String("KAFKA_BROKERS", ""),
	}
}

type Backend struct {
	Store    storage.Store
	Notifier outbox.Notifier
	Checks   []runtime.ReadyCheck
	// Publisher relays the Postgres outbox; nil for other stores.
	Publisher *outbox.Publisher

	closers []func(context.Context) error
}

// Open connects the configured store. withNotifier is false for one-shot
// commands that never emit events.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, withNotifier bool) (*Backend, error) {
	b := &Backend{}
	switch cfg.Kind {
	case KindPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s store", KindPostgres)
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: int32(cfg.MaxConns)})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { pool.Close(); return nil })
		if err := pool.Migrate(ctx, storage.Migrations...); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Store = storage.NewPageRepository(pool)
		b.Checks = append(b.Checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		if withNotifier {
			repo := outbox.NewRepository(pool)
			b.Notifier = repo
			b.Publisher = outbox.NewPublisher(pool, repo, logger, outbox.PublisherConfig{Brokers: cfg.KafkaBrokers})
		}

	case KindMongo:
		client, err := storage.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })
		store := storage.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		b.Store = store
		b.Checks = append(b.Checks, runtime.ReadyCheck{Name: "mongo", Check: storage.MongoReadyCheck(client)})

	case KindMemory:
		logger.Warn("using in-memory page store; data is lost on restart")
		b.Store = storage.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unknown STORE %q (want %s, %s or %s)", cfg.Kind, KindPostgres, KindMongo, KindMemory)
	}

	if withNotifier && b.Notifier == nil {
		if n := outbox.NewKafkaNotifier(cfg.KafkaBrokers, logger); n != nil {
			b.Notifier = n
			b.closers = append(b.closers, func(context.Context) error { return n.Close() })
		} else {
			b.Notifier = outbox.LogNotifier{Logger: logger}
		}
	}
	if cfg.KafkaBrokers != "" && withNotifier {
		b.Checks = append(b.Checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close(ctx context.Context) error {
	fns := make([]func(context.Context) error, 0, len(b.closers))
	for i := len(b.closers) - 1; i >= 0; i-- {
		fns = append(fns, b.closers[i])
	}
	var firstErr error
	for _, fn := range fns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
