// Package cli holds the lfctl operator commands.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

type profileAdmin interface {
	GetByHandle(ctx context.Context, actor policy.Actor, handle string) (*models.Profile, error)
	SetRole(ctx context.Context, actor policy.Actor, id uuid.UUID, role enums.ProfileRole) (*models.Profile, error)
}

type itemWalker interface {
	Each(ctx context.Context, batch int, fn func([]models.Item) error) error
}

type searchIndex interface {
	EnsureSettings(ctx context.Context) error
	Upsert(ctx context.Context, items ...models.Item) error
}

// Backend is what the database-bound commands run against. Index is nil when
// search is not configured.
type Backend struct {
	SQL      *sql.DB
	Profiles profileAdmin
	Items    itemWalker
	Index    searchIndex
	Close    func() error
}

// Connector opens a Backend. It is only called by commands that need one.
type Connector func(ctx context.Context) (*Backend, error)

type app struct {
	connect Connector
	logg    *logger.Logger
	out     io.Writer
}

// NewRootCommand builds the lfctl command tree.
func NewRootCommand(connect Connector, logg *logger.Logger, out io.Writer) *cobra.Command {
	if logg == nil {
		logg = logger.Nop()
	}
	a := &app{connect: connect, logg: logg, out: out}

	root := &cobra.Command{
		Use:           "lfctl",
		Short:         "Operator tooling for the lost-and-found backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(a.migrateCommand(), a.adminCommand(), a.searchCommand())
	return root
}

// withBackend opens the backend, runs fn and closes it again.
func (a *app) withBackend(ctx context.Context, fn func(*Backend) error) (err error) {
	if a.connect == nil {
		return errors.New("no backend configured")
	}
	backend, err := a.connect(ctx)
	if err != nil {
		return err
	}
	if backend.Close != nil {
		defer func() {
			err = errors.Join(err, backend.Close())
		}()
	}
	return fn(backend)
}
