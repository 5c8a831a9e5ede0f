package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

const (
	defaultNotificationRetention = 30 * 24 * time.Hour
	defaultOutboxRetention       = 7 * 24 * time.Hour
)

type notificationPurger interface {
	Purge(ctx context.Context, actor policy.Actor, cutoff time.Time) (int64, error)
}

type NotificationRetentionJobParams struct {
	Logger        *logger.Logger
	Notifications notificationPurger
	Retention     time.Duration
}

// NewNotificationRetentionJob deletes read notifications older than the
// retention window. It acts as the system actor, the only one allowed to
// delete notifications.
func NewNotificationRetentionJob(params NotificationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Notifications == nil {
		return nil, errors.New("notifications service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultNotificationRetention
	}
	return &notificationRetentionJob{
		logg:      params.Logger,
		purger:    params.Notifications,
		retention: retention,
		now:       time.Now,
	}, nil
}

type notificationRetentionJob struct {
	logg      *logger.Logger
	purger    notificationPurger
	retention time.Duration
	now       func() time.Time
}

func (j *notificationRetentionJob) Name() string { return "notification-retention" }

func (j *notificationRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.purger.Purge(ctx, policy.System, cutoff)
	if err != nil {
		return 0, fmt.Errorf("notification retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "cron.notification_retention_done")
	return deleted, nil
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	Outbox    outboxPruner
	Retention time.Duration
}

// NewOutboxRetentionJob removes published outbox rows past the retention
// window. Unpublished rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		retention: retention,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	outbox    outboxPruner
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.outbox.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "cron.outbox_retention_done")
	return deleted, nil
}
