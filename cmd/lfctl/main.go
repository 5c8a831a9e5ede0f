package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/cli"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/internal/search"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
)

func main() {
	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "lfctl", Level: os.Getenv("LOSTFOUND_LOG_LEVEL"), Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(connector(logg), logg, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "lfctl:", err)
		stop()
		os.Exit(1)
	}
}

// connector wires the backend lazily so file-only commands such as
// `migrate create` work without a database.
func connector(logg *logger.Logger) cli.Connector {
	return func(ctx context.Context) (*cli.Backend, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		sqlDB, err := client.DB().DB()
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}

		feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(client.DB()), logg))
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		profileService, err := profiles.NewService(profiles.NewRepository(client.DB()), client, feed)
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}

		backend := &cli.Backend{
			SQL:      sqlDB,
			Profiles: profileService,
			Items:    items.NewRepository(client.DB()),
			Close:    client.Close,
		}
		idx, err := search.New(cfg.Search, logg)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "lfctl.search_unavailable")
		} else if idx != nil {
			backend.Index = idx
		}
		return backend, nil
	}
}
