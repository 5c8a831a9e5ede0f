package cli

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
)

const (
	defaultReindexBatch   = 500
	defaultReindexWorkers = 4
)

func (a *app) searchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search index maintenance",
	}

	var batch, workers int
	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the items index from the database",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withBackend(c.Context(), func(b *Backend) error {
				if b.Index == nil {
					return errors.New("search is not configured")
				}
				n, err := reindexItems(c.Context(), b.Items, b.Index, batch, workers)
				if err != nil {
					return err
				}
				a.logg.Info(a.logg.WithField(c.Context(), "documents", n), "cli.reindex_done")
				fmt.Fprintf(a.out, "indexed %d items\n", n)
				return nil
			})
		},
	}
	reindex.Flags().IntVar(&batch, "batch", defaultReindexBatch, "items per indexing request")
	reindex.Flags().IntVar(&workers, "workers", defaultReindexWorkers, "concurrent indexing requests")
	cmd.AddCommand(reindex)
	return cmd
}

// reindexItems pushes every item to the index, keeping up to workers upserts
// in flight.
func reindexItems(ctx context.Context, items itemWalker, index searchIndex, batch, workers int) (int64, error) {
	if batch <= 0 {
		batch = defaultReindexBatch
	}
	if workers <= 0 {
		workers = defaultReindexWorkers
	}
	if err := index.EnsureSettings(ctx); err != nil {
		return 0, fmt.Errorf("ensure index settings: %w", err)
	}

	var indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	walkErr := items.Each(gctx, batch, func(rows []models.Item) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		// Each reuses its slice between batches.
		docs := append([]models.Item(nil), rows...)
		g.Go(func() error {
			if err := index.Upsert(gctx, docs...); err != nil {
				return err
			}
			indexed.Add(int64(len(docs)))
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return indexed.Load(), fmt.Errorf("index items: %w", err)
	}
	if walkErr != nil {
		return indexed.Load(), fmt.Errorf("walk items: %w", walkErr)
	}
	return indexed.Load(), nil
}
