package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/lostfound-backend/pkg/migrate"
)

func (a *app) migrateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect or author database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "migrations directory for create and validate")

	for _, goose := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the most recent migration"},
		{"status", "Print the applied state of every migration"},
	} {
		command := goose.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: goose.short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return a.withBackend(c.Context(), func(b *Backend) error {
					if b.SQL == nil {
						return errors.New("sql connection required")
					}
					return migrate.Run(c.Context(), b.SQL, command)
				})
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version [YYYYMMDDHHMMSS]",
		Short: "Print the current version, or migrate up or down to the given one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.withBackend(c.Context(), func(b *Backend) error {
				if b.SQL == nil {
					return errors.New("sql connection required")
				}
				if len(args) == 1 {
					return migrate.MigrateToVersion(c.Context(), b.SQL, args[0])
				}
				current, err := migrate.Version(c.Context(), b.SQL)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, current)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "created migration:", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration file names and goose markers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := migrate.ValidateDir(dir); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "migration validation passed")
			return nil
		},
	})
	return cmd
}
