package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lostfound-backend/api/controllers"
	"github.com/angelmondragon/lostfound-backend/api/middleware"
	"github.com/angelmondragon/lostfound-backend/api/routes"
	"github.com/angelmondragon/lostfound-backend/internal/accounts"
	"github.com/angelmondragon/lostfound-backend/internal/auth"
	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/claims"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/messages"
	"github.com/angelmondragon/lostfound-backend/internal/notifications"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/internal/realtime"
	"github.com/angelmondragon/lostfound-backend/internal/search"
	"github.com/angelmondragon/lostfound-backend/internal/storage"
	"github.com/angelmondragon/lostfound-backend/pkg/auth/session"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/imaging"
	"github.com/angelmondragon/lostfound-backend/pkg/instance"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	"github.com/angelmondragon/lostfound-backend/pkg/metrics"
	"github.com/angelmondragon/lostfound-backend/pkg/migrate"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
	"github.com/angelmondragon/lostfound-backend/pkg/redis"
	"github.com/angelmondragon/lostfound-backend/pkg/storage/cloudinary"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	accountRepo := accounts.NewRepository(conn)
	profileRepo := profiles.NewRepository(conn)
	itemRepo := items.NewRepository(conn)
	notificationRepo := notifications.NewRepository(conn)

	notifier, err := notifications.NewNotifier(notificationRepo, feed)
	if err != nil {
		return err
	}
	resolver, err := policy.NewResolver(profileRepo)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(auth.ServiceParams{
		Accounts:       accountRepo,
		Profiles:       profileRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		return err
	}
	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		Tx:             dbClient,
		Accounts:       accountRepo,
		Profiles:       profileRepo,
		Feed:           feed,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return err
	}
	profileService, err := profiles.NewService(profileRepo, dbClient, feed)
	if err != nil {
		return err
	}

	itemParams := items.ServiceParams{
		Repo:    itemRepo,
		Posters: profileRepo,
		Tx:      dbClient,
		Feed:    feed,
	}
	index, err := search.New(cfg.Search, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "search index unavailable, falling back to database search")
	} else if index != nil {
		itemParams.Searcher = index
	}
	itemService, err := items.NewService(itemParams)
	if err != nil {
		return err
	}

	claimService, err := claims.NewService(claims.ServiceParams{
		Repo:     claims.NewRepository(conn),
		Items:    itemRepo,
		Notifier: notifier,
		Tx:       dbClient,
		Feed:     feed,
	})
	if err != nil {
		return err
	}
	messageService, err := messages.NewService(messages.ServiceParams{
		Repo:     messages.NewRepository(conn),
		Items:    itemRepo,
		Profiles: profileRepo,
		Notifier: notifier,
		Tx:       dbClient,
		Feed:     feed,
	})
	if err != nil {
		return err
	}
	notificationService, err := notifications.NewService(notificationRepo, dbClient, feed)
	if err != nil {
		return err
	}
	accountService, err := accounts.NewService(accountRepo, dbClient, feed)
	if err != nil {
		return err
	}

	readiness := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}
	var storageService storage.Service
	store, err := cloudinary.NewClient(cfg.Storage, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "object storage unavailable")
	} else {
		readiness["storage"] = store
		storageService, err = storage.NewService(storage.ServiceParams{
			Store:    store,
			Profiles: profileService,
			Image: imaging.Options{
				MaxDimension: cfg.Storage.ImageMaxDim,
				Quality:      cfg.Storage.ImageQuality,
				MaxBytes:     cfg.Storage.MaxUploadBytes(),
			},
			UploadTimeout: cfg.Storage.UploadTimeout,
			Logger:        logg,
		})
		if err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	realtimeMetrics := metrics.NewRealtimeMetrics(registry)
	hub := realtime.NewHub(realtimeMetrics, logg)
	realtimeServer := realtime.NewServer(hub, func(r *http.Request) (policy.Actor, bool) {
		return middleware.ActorFromContext(r.Context())
	}, cfg.Realtime, realtimeMetrics, logg)

	changes, err := redisClient.PSubscribe(ctx, redisClient.ChangesPattern())
	if err != nil {
		return err
	}
	defer func() {
		_ = changes.Close()
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:        cfg,
			Logger:        logg,
			Gatherer:      registry,
			Readiness:     readiness,
			Redis:         redisClient,
			Sessions:      sessionManager,
			Actors:        resolver,
			Auth:          authService,
			Register:      registerService,
			Profiles:      profileService,
			Items:         itemService,
			Claims:        claimService,
			Messages:      messageService,
			Notifications: notificationService,
			Accounts:      accountService,
			Storage:       storageService,
			Realtime:      realtimeServer,
		}),
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID("api"),
	})
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx, changes.Channel())
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info(ctx, "api server shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rtErr := realtimeServer.Shutdown(shutdownCtx)
		hub.Close()
		return multierr.Combine(server.Shutdown(shutdownCtx), rtErr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
