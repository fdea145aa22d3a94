package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tribeapp/notification-service/internal/config"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/event"
	"github.com/tribeapp/notification-service/internal/handler"
	"github.com/tribeapp/notification-service/internal/infra/postgresql"
	"github.com/tribeapp/notification-service/internal/infra/postgresql/migrations"
	infraredis "github.com/tribeapp/notification-service/internal/infra/redis"
	"github.com/tribeapp/notification-service/internal/observability"
	"github.com/tribeapp/notification-service/internal/preference"
	"github.com/tribeapp/notification-service/internal/repository"
	"github.com/tribeapp/notification-service/internal/sender"
	"github.com/tribeapp/notification-service/internal/service"
	"github.com/tribeapp/notification-service/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	notificationRepo := repository.NewGormNotificationRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)
	preferenceRepo := repository.NewGormPreferenceRepo(db)
	contactRepo := repository.NewGormContactRepo(db)

	notifications, err := service.NewNotificationService(notificationRepo, logger)
	if err != nil {
		logger.Fatal("notification service init failed", zap.Error(err))
	}
	deliveries, err := service.NewDeliveryService(deliveryRepo, logger)
	if err != nil {
		logger.Fatal("delivery service init failed", zap.Error(err))
	}
	stats, err := service.NewStatsService(deliveryRepo, logger)
	if err != nil {
		logger.Fatal("stats service init failed", zap.Error(err))
	}

	preferenceStore, err := preference.NewStore(preferenceRepo, logger)
	if err != nil {
		logger.Fatal("preference store init failed", zap.Error(err))
	}
	var preferences preference.Resolver = preferenceStore
	if cfg.PreferenceCacheTTL() > 0 {
		cached, err := preference.NewCache(preferenceStore, rdb, cfg.PreferenceCacheTTL(), logger)
		if err != nil {
			logger.Fatal("preference cache init failed", zap.Error(err))
		}
		preferences = cached
	}

	registry := sender.NewRegistry()

	pushSender, err := sender.NewPushSender(cfg.PushGatewayURL, cfg.PushGatewayAPIKey, deliveries, notifications, logger)
	if err != nil {
		logger.Fatal("push sender init failed", zap.Error(err))
	}
	registry.Register(domain.ChannelPush, pushSender)

	inAppSender, err := sender.NewInAppSender(deliveries, logger)
	if err != nil {
		logger.Fatal("in-app sender init failed", zap.Error(err))
	}
	registry.Register(domain.ChannelInApp, inAppSender)

	if cfg.EmailEnabled {
		emailSender, err := sender.NewEmailSender(
			context.Background(),
			cfg.AWSRegion,
			cfg.EmailFrom,
			contactRepo,
			deliveries,
			notifications,
			logger,
		)
		if err != nil {
			logger.Fatal("email sender init failed", zap.Error(err))
		}
		registry.Register(domain.ChannelEmail, emailSender)
	}
	// SMS stays unregistered until a provider lands; dispatch records those
	// deliveries as failed without touching their retry counter.

	var publisher event.Publisher = event.NopPublisher{}
	var broker *event.RabbitMQ
	if cfg.EventingEnabled() {
		broker, err = event.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer broker.Close()
		publisher = event.NewRabbitMQPublisher(broker)
	} else {
		logger.Warn("no RABBITMQ_URL configured, running API-only without ingress workers")
	}

	orchestrator, err := service.NewOrchestrator(
		notifications,
		deliveries,
		preferences,
		registry,
		publisher,
		cfg.BulkChunkSize,
		cfg.BulkChunkPause(),
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	retries, err := service.NewRetryCoordinator(
		deliveries,
		registry,
		publisher,
		cfg.MaxRetryAttempts,
		cfg.RetryBatchSize,
		cfg.RetryScanInterval(),
		logger,
	)
	if err != nil {
		logger.Fatal("retry coordinator init failed", zap.Error(err))
	}
	retries.SetMetrics(metrics)

	scanner, err := service.NewQueueScanner(orchestrator, cfg.QueueScanInterval(), cfg.QueueBatchSize, logger)
	if err != nil {
		logger.Fatal("queue scanner init failed", zap.Error(err))
	}

	sweeper, err := service.NewRetentionSweeper(
		notifications,
		deliveries,
		cfg.CleanupInterval(),
		cfg.NotificationRetentionDays,
		cfg.DeliveryRetentionDays,
		logger,
	)
	if err != nil {
		logger.Fatal("retention sweeper init failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	var workers *service.WorkerPool
	if broker != nil {
		consumer := event.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
		workers, err = service.NewWorkerPool(notifications, orchestrator, consumer, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("worker pool init failed", zap.Error(err))
		}
		workers.SetMetrics(metrics)
	}

	app := fiber.New(fiber.Config{
		AppName:      "notification-service",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, notifications, deliveries, orchestrator); err != nil {
		logger.Fatal("notification routes init failed", zap.Error(err))
	}
	if err := handler.RegisterStatsRoutes(app, stats); err != nil {
		logger.Fatal("stats routes init failed", zap.Error(err))
	}
	if err := handler.RegisterPreferenceRoutes(app, preferences); err != nil {
		logger.Fatal("preference routes init failed", zap.Error(err))
	}
	if err := handler.RegisterAdminRoutes(app, retries, orchestrator, sweeper); err != nil {
		logger.Fatal("admin routes init failed", zap.Error(err))
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return retries.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })
	if workers != nil {
		g.Go(func() error { return workers.Start(groupCtx) })
	}

	logger.Info("notification service started",
		zap.Int("port", cfg.APIPort),
		zap.Int("metricsPort", cfg.MetricsPort),
		zap.Bool("eventing", broker != nil),
		zap.Int("senders", len(registry.Channels())),
	)

	if err := g.Wait(); err != nil {
		logger.Fatal("notification service exited", zap.Error(err))
	}
	logger.Info("notification service stopped")
}
