package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
)

type fixture struct {
	svc      Service
	notifier *Notifier
	client   db.TxRunner
	conn     *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	repo := NewRepository(conn)
	svc, err := NewService(repo, client, feed)
	require.NoError(t, err)
	notifier, err := NewNotifier(repo, feed)
	require.NoError(t, err)
	return fixture{svc: svc, notifier: notifier, client: client, conn: conn}
}

func (f fixture) notify(t *testing.T, userID uuid.UUID, title string) models.Notification {
	t.Helper()
	n := models.Notification{UserID: userID, Type: enums.NotificationTypeMessage, Title: title}
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return f.notifier.Create(context.Background(), tx, &n)
	}))
	return n
}

func TestNotifierRequiresTransactionAndTitle(t *testing.T) {
	f := newFixture(t)
	user := dbtest.SeedUser(t, f.conn, "alice", enums.ProfileRoleUser)

	err := f.notifier.Create(context.Background(), nil, &models.Notification{UserID: user.ID, Title: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))

	err = f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return f.notifier.Create(context.Background(), tx, &models.Notification{UserID: user.ID})
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	n := f.notify(t, user.ID, "New message")
	assert.Equal(t, enums.NotificationTypeMessage, n.Type)
	assert.EqualValues(t, 1, dbtest.Count(t, f.conn, "outbox_events", "aggregate_type = ? AND event_type = ?", "notifications", "row_inserted"))
}

func TestListOnlyReturnsOwnNotifications(t *testing.T) {
	f := newFixture(t)
	alice := dbtest.SeedUser(t, f.conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, f.conn, "bob", enums.ProfileRoleAdmin)

	for i := 0; i < 3; i++ {
		f.notify(t, alice.ID, "for alice")
	}
	f.notify(t, bob.ID, "for bob")

	page, err := f.svc.List(context.Background(), policy.Actor{ID: alice.ID}, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.Cursor)

	rest, err := f.svc.List(context.Background(), policy.Actor{ID: alice.ID}, ListParams{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)

	// admins see only their own notifications too
	adminPage, err := f.svc.List(context.Background(), policy.Actor{ID: bob.ID, Admin: true}, ListParams{})
	require.NoError(t, err)
	require.Len(t, adminPage.Items, 1)
	assert.Equal(t, "for bob", adminPage.Items[0].Title)

	_, err = f.svc.List(context.Background(), policy.Actor{ID: alice.ID}, ListParams{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, f.conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, f.conn, "bob", enums.ProfileRoleUser)
	first := f.notify(t, alice.ID, "one")
	f.notify(t, alice.ID, "two")

	count, err := f.svc.UnreadCount(ctx, policy.Actor{ID: alice.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, err = f.svc.MarkRead(ctx, policy.Actor{ID: bob.ID}, first.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), err)

	read, err := f.svc.MarkRead(ctx, policy.Actor{ID: alice.ID}, first.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	_, err = f.svc.MarkRead(ctx, policy.Actor{ID: alice.ID}, first.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dbtest.Count(t, f.conn, "outbox_events", "event_type = ?", "row_updated"))

	updated, err := f.svc.MarkAllRead(ctx, policy.Actor{ID: alice.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	count, err = f.svc.UnreadCount(ctx, policy.Actor{ID: alice.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPurgeRequiresSystemActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, f.conn, "alice", enums.ProfileRoleAdmin)
	old := f.notify(t, alice.ID, "old")
	f.notify(t, alice.ID, "fresh")
	_, err := f.svc.MarkRead(ctx, policy.Actor{ID: alice.ID}, old.ID)
	require.NoError(t, err)

	_, err = f.svc.Purge(ctx, policy.Actor{ID: alice.ID, Admin: true}, time.Now().Add(time.Hour))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	deleted, err := f.svc.Purge(ctx, policy.System, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.EqualValues(t, 1, dbtest.Count(t, f.conn, "notifications", ""))
}

type fakeRepository struct {
	Repository
	listFn func(ctx context.Context, params listNotificationsParams) ([]models.Notification, error)
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, error) {
	return f.listFn(ctx, params)
}

func TestListWrapsRepositoryErrors(t *testing.T) {
	repo := &fakeRepository{listFn: func(context.Context, listNotificationsParams) ([]models.Notification, error) {
		return nil, errors.New("db down")
	}}
	client, _ := dbtest.OpenClient(t)
	svc, err := NewService(repo, client, nil)
	require.NoError(t, err)

	_, err = svc.List(context.Background(), policy.Actor{ID: uuid.New()}, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = svc.List(context.Background(), policy.Actor{}, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}
