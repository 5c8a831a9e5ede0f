package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

const defaultReconcileBatch = 100

type approvedClaimFinder interface {
	ApprovedWithOpenItem(ctx context.Context, limit int) ([]models.Claim, error)
}

type itemTransitioner interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Item, error)
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to enums.ItemStatus) (bool, error)
}

type ClaimReconcileJobParams struct {
	Logger    *logger.Logger
	DB        db.TxRunner
	Claims    approvedClaimFinder
	Items     itemTransitioner
	Feed      changefeed.Recorder
	BatchSize int
}

// NewClaimReconcileJob repairs items that still show as active although one
// of their claims was approved, moving them to claimed.
func NewClaimReconcileJob(params ClaimReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	if params.Claims == nil || params.Items == nil {
		return nil, errors.New("claims and items repositories required")
	}
	feed := params.Feed
	if feed == nil {
		feed = changefeed.Discard
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &claimReconcileJob{
		logg:   params.Logger,
		db:     params.DB,
		claims: params.Claims,
		items:  params.Items,
		feed:   feed,
		batch:  batch,
	}, nil
}

type claimReconcileJob struct {
	logg   *logger.Logger
	db     db.TxRunner
	claims approvedClaimFinder
	items  itemTransitioner
	feed   changefeed.Recorder
	batch  int
}

func (j *claimReconcileJob) Name() string { return "claim-reconcile" }

func (j *claimReconcileJob) Run(ctx context.Context) (int64, error) {
	claims, err := j.claims.ApprovedWithOpenItem(ctx, j.batch)
	if err != nil {
		return 0, fmt.Errorf("list approved claims: %w", err)
	}

	var repaired int64
	var failures []error
	seen := map[uuid.UUID]struct{}{}
	for _, claim := range claims {
		if _, dup := seen[claim.ItemID]; dup {
			continue
		}
		seen[claim.ItemID] = struct{}{}

		moved, err := j.repair(ctx, claim)
		if err != nil {
			j.logg.Error(j.logg.WithFields(ctx, map[string]any{"claim_id": claim.ID, "item_id": claim.ItemID}), "cron.claim_reconcile_item_failed", err)
			failures = append(failures, err)
			continue
		}
		if moved {
			repaired++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(claims),
		"repaired":   repaired,
	}), "cron.claim_reconcile_done")
	return repaired, errors.Join(failures...)
}

func (j *claimReconcileJob) repair(ctx context.Context, claim models.Claim) (bool, error) {
	var moved bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.items.TransitionStatus(ctx, tx, claim.ItemID, enums.ItemStatusActive, enums.ItemStatusClaimed)
		if err != nil || !ok {
			return err
		}
		item, err := j.items.FindByID(ctx, tx, claim.ItemID)
		if err != nil {
			return err
		}
		moved = true
		return j.feed.Record(ctx, tx, changefeed.Updated(enums.AggregateItem, item.ID, item))
	})
	if err != nil {
		return false, fmt.Errorf("repair item %s: %w", claim.ItemID, err)
	}
	return moved, nil
}
