package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

// Service defines notification list/read operations.
type Service interface {
	List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error)
	UnreadCount(ctx context.Context, actor policy.Actor) (int64, error)
	MarkRead(ctx context.Context, actor policy.Actor, notificationID uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, actor policy.Actor) (int64, error)
	Purge(ctx context.Context, actor policy.Actor, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
	tx   db.TxRunner
	feed changefeed.Recorder
}

// ListParams configures pagination for notifications.
type ListParams struct {
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository, tx db.TxRunner, feed changefeed.Recorder) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if feed == nil {
		feed = changefeed.Discard
	}
	return &service{repo: repo, tx: tx, feed: feed}, nil
}

func (s *service) List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error) {
	if !actor.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listNotificationsParams{
		Actor:      actor,
		Limit:      params.Limit,
		Cursor:     cursor,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	if rows == nil {
		rows = []models.Notification{}
	}
	return &ListResult{
		Items:  rows,
		Cursor: next,
	}, nil
}

func (s *service) UnreadCount(ctx context.Context, actor policy.Actor) (int64, error) {
	if !actor.Authenticated() {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	count, err := s.repo.UnreadCount(ctx, actor.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}
	return count, nil
}

func (s *service) MarkRead(ctx context.Context, actor policy.Actor, notificationID uuid.UUID) (*models.Notification, error) {
	if notificationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	var out *models.Notification
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		notification, err := txRepo.FindVisible(ctx, actor, notificationID)
		if err != nil {
			return repo.NotFoundAs(err, "notification")
		}
		if err := policy.Authorize(actor, policy.Notifications, policy.Update, *notification); err != nil {
			return err
		}
		out = notification
		if notification.Read {
			return nil
		}
		if err := txRepo.MarkRead(ctx, notification.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
		}
		notification.Read = true
		return s.record(ctx, tx, actor, *notification)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) MarkAllRead(ctx context.Context, actor policy.Actor) (int64, error) {
	if !actor.Authenticated() {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	var count int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		unread, err := txRepo.UnreadForUser(ctx, actor.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unread notifications")
		}
		if len(unread) == 0 {
			return nil
		}
		updated, err := txRepo.MarkAllRead(ctx, actor.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
		}
		count = updated
		for _, n := range unread {
			n.Read = true
			if err := s.record(ctx, tx, actor, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Purge deletes read notifications older than cutoff. Only the system actor
// may delete notifications.
func (s *service) Purge(ctx context.Context, actor policy.Actor, cutoff time.Time) (int64, error) {
	if !policy.CanDeleteNotification(actor, models.Notification{}) {
		return 0, pkgerrors.New(pkgerrors.CodeForbidden, "notifications cannot be deleted")
	}
	deleted, err := s.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge notifications")
	}
	return deleted, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, actor policy.Actor, n models.Notification) error {
	if err := s.feed.Record(ctx, tx, changefeed.Updated(enums.AggregateNotification, n.ID, n).By(actor.ID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record notification change")
	}
	return nil
}
