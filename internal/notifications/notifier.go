package notifications

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

// Notifier inserts system notifications inside the caller's transaction, so
// the row that caused a notification and the notification commit together.
type Notifier struct {
	repo Repository
	feed changefeed.Recorder
}

func NewNotifier(repo Repository, feed changefeed.Recorder) (*Notifier, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if feed == nil {
		feed = changefeed.Discard
	}
	return &Notifier{repo: repo, feed: feed}, nil
}

// Create writes n with tx. Title is required; type defaults to system.
func (n *Notifier) Create(ctx context.Context, tx *gorm.DB, notification *models.Notification) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "notifications must be written inside a transaction")
	}
	if notification == nil || strings.TrimSpace(notification.Title) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification title is required")
	}
	if notification.Type == "" {
		notification.Type = enums.NotificationTypeSystem
	}
	if err := policy.Authorize(policy.System, policy.Notifications, policy.Insert, *notification); err != nil {
		return err
	}
	if err := n.repo.WithTx(tx).Create(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert notification")
	}
	if err := n.feed.Record(ctx, tx, changefeed.Inserted(enums.AggregateNotification, notification.ID, notification)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record notification change")
	}
	return nil
}
