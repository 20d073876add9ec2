package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/telemetry-engine/internal/config"
	"github.com/kursadbilgin/telemetry-engine/internal/handler"
	"github.com/kursadbilgin/telemetry-engine/internal/hub"
	"github.com/kursadbilgin/telemetry-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/telemetry-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/telemetry-engine/internal/infra/redis"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
	"github.com/kursadbilgin/telemetry-engine/internal/service"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"github.com/kursadbilgin/telemetry-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("telemetry-engine api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	hubClient, err := hub.NewClient(hub.Options{
		ConnectionString: cfg.Hub.ConnectionString,
		HubName:          cfg.Hub.HubName,
		APIVersion:       cfg.Hub.APIVersion,
		Timeout:          cfg.Hub.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("hub client initialization failed: %w", err)
	}

	cache, err := infraredis.NewTelemetryCache(rdb, cfg.TelemetryCacheTTL())
	if err != nil {
		return fmt.Errorf("telemetry cache initialization failed: %w", err)
	}

	limiter, err := infraredis.NewHubRateLimiter(rdb, cfg.HubRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	snapshots := repository.NewGormSnapshotRepo(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.PollConcurrency, logger)

	telemetryService, err := service.NewTelemetryService(
		snapshots,
		hubClient,
		cache,
		publisher,
		telemetry.NewParser(logger),
		cfg.MaxPolls,
		logger,
	)
	if err != nil {
		return fmt.Errorf("telemetry service initialization failed: %w", err)
	}
	telemetryService.SetMetrics(metrics)

	worker, err := service.NewPollWorker(
		telemetryService,
		consumer,
		limiter,
		hubClient.HubName(),
		cfg.PollConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("poll worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewPollScanner(snapshots, publisher, cfg.PollScanInterval(), 0, logger)
	if err != nil {
		return fmt.Errorf("poll scanner initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.HealthCheck{
		"postgres": handler.SQLCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": func(context.Context) error { return rabbit.Healthy() },
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterTelemetryRoutes(app, telemetryService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("telemetry-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.String("hub", hubClient.HubName()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down telemetry-engine api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("telemetry-engine api stopped")
	return nil
}
