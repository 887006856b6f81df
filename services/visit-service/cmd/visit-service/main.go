package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/visitwindow/libs/config"
	"github.com/md-rashed-zaman/visitwindow/libs/grpcx"
	"github.com/md-rashed-zaman/visitwindow/libs/httpx"
	otelx "github.com/md-rashed-zaman/visitwindow/libs/otel"
	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/backend"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/cleanup"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/handlers"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/tokens"
)

func main() {
	_ = config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "visit-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if err := run(service, logger); err != nil {
		logger.Error("visit service failed", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	secret, err := config.RequiredString("TOKEN_SECRET")
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

	tok, err := tokens.NewService(secret)
	if err != nil {
		return err
	}

	storeCfg := backend.ConfigFromEnv()
	be, err := backend.Open(ctx, storeCfg, logger, true)
	if err != nil {
		return err
	}
	if be.Publisher != nil {
		go be.Publisher.Run(ctx)
	}

	engine := booking.NewEngine(be.Store, tok, booking.Options{
		MaxAttempts:   config.Int("BOOKING_MAX_ATTEMPTS", booking.DefaultMaxAttempts, 1),
		Notifier:      be.Notifier,
		NotifyTimeout: config.Duration("NOTIFY_TIMEOUT", booking.DefaultNotifyTimeout),
		Logger:        logger,
	})

	job := cleanup.NewJob(be.Store, be.Notifier, logger, cleanup.Config{
		Retention: time.Duration(config.Int("CLEANUP_RETENTION_DAYS", 90, 1)) * 24 * time.Hour,
	})
	scheduler, err := cleanup.NewScheduler(job, config.String("CLEANUP_SCHEDULE", "@daily"), logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	mux := runtime.NewBaseMuxWithReady(be.Checks...)
	handlers.NewPageHandler(engine, logger).Register(mux)

	rateLimitMW, closeRedis := rateLimiter(logger)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithNoStore,
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 64<<10, 1024))),
		httpx.WithTimeout(config.Duration("HTTP_REQUEST_TIMEOUT", 10*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "visit")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	if err := grpcServer.Start(ctx, ":"+grpcPort); err != nil {
		return err
	}
	grpcServer.SetServing(service, true)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", storeCfg.Kind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	grpcServer.SetServing(service, false)
	err = runtime.Shutdown(10*time.Second,
		srv.Shutdown,
		scheduler.Stop,
		closeRedis,
		be.Close,
		otelShutdown,
	)
	logger.Info("visit service stopped")
	return err
}

// rateLimiter prefers the shared Redis limiter when REDIS_ADDR is set so all
// replicas count against one budget.
func rateLimiter(logger *slog.Logger) (httpx.Middleware, func(context.Context) error) {
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1)
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
		return httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0, 0),
	})
	rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "visit-rl"))
	logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)), func(context.Context) error { return rdb.Close() }
}
