package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/visitwindow/libs/config"
	"github.com/md-rashed-zaman/visitwindow/libs/db"
	"github.com/md-rashed-zaman/visitwindow/libs/httpx"
	"github.com/md-rashed-zaman/visitwindow/libs/kafkax"
	otelx "github.com/md-rashed-zaman/visitwindow/libs/otel"
	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/mailer"
)

func main() {
	_ = config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "visit-mailer")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if err := run(service, logger); err != nil {
		logger.Error("visit mailer failed", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8081")
	if err != nil {
		return err
	}
	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = nil
	}

	checks := []runtime.ReadyCheck{{Name: "kafka", Check: kafkax.ReadyCheck(brokers)}}

	var inbox mailer.Inbox
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.PoolConfig{MaxConns: 4})
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.Migrate(ctx, mailer.Migrations...); err != nil {
			return err
		}
		inbox = mailer.NewInboxRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("no DATABASE_URL; redelivered events are not deduplicated")
	}

	var sender mailer.Sender = mailer.LogSender{Logger: logger}
	if host := config.String("SMTP_HOST", ""); host != "" {
		sender = mailer.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
	}

	consumer := mailer.New(logger, inbox, sender, mailer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "visit-mailer"),
		BaseURL: config.String("BASE_URL", "http://localhost:3000"),
	})
	go consumer.Run(ctx)

	handler := httpx.Chain(runtime.NewBaseMuxWithReady(checks...),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "visit-mailer"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	err = runtime.Shutdown(10*time.Second, srv.Shutdown, otelShutdown)
	logger.Info("visit mailer stopped")
	return err
}
