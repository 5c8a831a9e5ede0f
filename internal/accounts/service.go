package accounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

type accountRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Account, error)
	DeleteCascade(tx *gorm.DB, id uuid.UUID) (DeleteCounts, error)
}

// Service exposes admin account management.
type Service interface {
	Delete(ctx context.Context, actor policy.Actor, id uuid.UUID) (*DeleteCounts, error)
}

type service struct {
	repo accountRepository
	tx   db.TxRunner
	feed changefeed.Recorder
}

// NewService wires the account service.
func NewService(repository accountRepository, tx db.TxRunner, feed changefeed.Recorder) (Service, error) {
	if repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "account repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if feed == nil {
		feed = changefeed.Discard
	}
	return &service{repo: repository, tx: tx, feed: feed}, nil
}

// Delete removes an account with everything that references it in one
// transaction. Owned items get delete events so the search index drops them.
func (s *service) Delete(ctx context.Context, actor policy.Actor, id uuid.UUID) (*DeleteCounts, error) {
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if id == actor.ID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admins cannot delete their own account")
	}

	var counts DeleteCounts
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
			return repo.NotFoundAs(err, "account")
		}

		var profile models.Profile
		res := tx.Where("id = ?", id).Limit(1).Find(&profile)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "load profile")
		}
		hasProfile := res.RowsAffected > 0
		var items []models.Item
		if err := tx.Where("user_id = ?", id).Find(&items).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load owned items")
		}

		deleted, err := s.repo.DeleteCascade(tx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete account")
		}
		counts = deleted

		for _, item := range items {
			if err := s.feed.Record(ctx, tx, changefeed.Deleted(enums.AggregateItem, item.ID, item).By(actor.ID)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record item delete")
			}
		}
		if hasProfile {
			if err := s.feed.Record(ctx, tx, changefeed.Deleted(enums.AggregateProfile, profile.ID, profile).By(actor.ID)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record profile delete")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &counts, nil
}
