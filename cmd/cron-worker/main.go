package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/claims"
	"github.com/angelmondragon/lostfound-backend/internal/cron"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/notifications"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/instance"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	"github.com/angelmondragon/lostfound-backend/pkg/metrics"
	"github.com/angelmondragon/lostfound-backend/pkg/migrate"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
	"github.com/angelmondragon/lostfound-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	jobs, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(cfg.Service.Kind),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) ([]cron.Job, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	feed, err := changefeed.New(outbox.NewService(outboxRepo, logg))
	if err != nil {
		return nil, err
	}
	notificationService, err := notifications.NewService(notifications.NewRepository(conn), dbClient, feed)
	if err != nil {
		return nil, err
	}

	notificationJob, err := cron.NewNotificationRetentionJob(cron.NotificationRetentionJobParams{
		Logger:        logg,
		Notifications: notificationService,
		Retention:     cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Outbox:    outboxRepo,
		Retention: cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}
	reconcileJob, err := cron.NewClaimReconcileJob(cron.ClaimReconcileJobParams{
		Logger: logg,
		DB:     dbClient,
		Claims: claims.NewRepository(conn),
		Items:  items.NewRepository(conn),
		Feed:   feed,
	})
	if err != nil {
		return nil, err
	}
	return []cron.Job{notificationJob, outboxJob, reconcileJob}, nil
}
