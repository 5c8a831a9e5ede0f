package messages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/notifications"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	notifier, err := notifications.NewNotifier(notifications.NewRepository(conn), feed)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Items:    items.NewRepository(conn),
		Profiles: profiles.NewRepository(conn),
		Notifier: notifier,
		Tx:       client,
		Feed:     feed,
	})
	require.NoError(t, err)
	return svc, conn
}

func TestSendCreatesExactlyOneNotification(t *testing.T) {
	svc, conn := newTestService(t)
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Blue Backpack", enums.ItemKindFound, enums.ItemStatusActive)

	msg, err := svc.Send(context.Background(), policy.Actor{ID: bob.ID}, SendInput{
		RecipientID: alice.ID,
		ItemID:      item.ID,
		Body:        "  I think this is mine  ",
	})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, msg.SenderID)
	assert.Equal(t, "I think this is mine", msg.Body)
	assert.False(t, msg.Read)

	var notes []models.Notification
	require.NoError(t, conn.Where("user_id = ?", alice.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, enums.NotificationTypeMessage, notes[0].Type)
	assert.Contains(t, notes[0].Title, "Blue Backpack")
	assert.Equal(t, "I think this is mine", notes[0].Body)
	assert.Zero(t, dbtest.Count(t, conn, "notifications", "user_id = ?", bob.ID))
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "outbox_events", "aggregate_type = ?", "messages"))
}

func TestSendGuards(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	carol := dbtest.SeedUser(t, conn, "carol", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Umbrella", enums.ItemKindLost, enums.ItemStatusActive)
	archived := dbtest.SeedItem(t, conn, alice.ID, "Scarf", enums.ItemKindLost, enums.ItemStatusArchived)

	cases := []struct {
		name  string
		actor policy.Actor
		input SendInput
		code  pkgerrors.Code
	}{
		{"anonymous", policy.Actor{}, SendInput{RecipientID: alice.ID, ItemID: item.ID, Body: "hi"}, pkgerrors.CodeUnauthorized},
		{"empty body", policy.Actor{ID: bob.ID}, SendInput{RecipientID: alice.ID, ItemID: item.ID, Body: "   "}, pkgerrors.CodeValidation},
		{"self", policy.Actor{ID: bob.ID}, SendInput{RecipientID: bob.ID, ItemID: item.ID, Body: "hi"}, pkgerrors.CodeValidation},
		{"missing recipient", policy.Actor{ID: bob.ID}, SendInput{RecipientID: uuid.New(), ItemID: item.ID, Body: "hi"}, pkgerrors.CodeNotFound},
		{"missing item", policy.Actor{ID: bob.ID}, SendInput{RecipientID: alice.ID, ItemID: uuid.New(), Body: "hi"}, pkgerrors.CodeNotFound},
		{"hidden item", policy.Actor{ID: bob.ID}, SendInput{RecipientID: alice.ID, ItemID: archived.ID, Body: "hi"}, pkgerrors.CodeNotFound},
		{"owner not involved", policy.Actor{ID: bob.ID}, SendInput{RecipientID: carol.ID, ItemID: item.ID, Body: "hi"}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tc.actor, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
	assert.Zero(t, dbtest.Count(t, conn, "messages", ""))
	assert.Zero(t, dbtest.Count(t, conn, "notifications", ""))
}

func TestClaimantCanMessageOwnerAfterApproval(t *testing.T) {
	svc, conn := newTestService(t)
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Wallet", enums.ItemKindFound, enums.ItemStatusClaimed)
	require.NoError(t, conn.Create(&models.Claim{ItemID: item.ID, ClaimantID: bob.ID, Status: enums.ClaimStatusApproved}).Error)

	_, err := svc.Send(context.Background(), policy.Actor{ID: bob.ID}, SendInput{RecipientID: alice.ID, ItemID: item.ID, Body: "when can I pick it up?"})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), policy.Actor{ID: alice.ID}, SendInput{RecipientID: bob.ID, ItemID: item.ID, Body: "tomorrow"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, dbtest.Count(t, conn, "notifications", ""))
}

func TestConversationsGroupAndOrder(t *testing.T) {
	svc, conn := newTestService(t)
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	carol := dbtest.SeedUser(t, conn, "carol", enums.ProfileRoleUser)
	backpack := dbtest.SeedItem(t, conn, alice.ID, "Backpack", enums.ItemKindFound, enums.ItemStatusActive)
	keys := dbtest.SeedItem(t, conn, alice.ID, "Keys", enums.ItemKindFound, enums.ItemStatusActive)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, backpack.ID, "b1", base)
	dbtest.SeedMessage(t, conn, alice.ID, bob.ID, backpack.ID, "a1", base.Add(time.Minute))
	dbtest.SeedMessage(t, conn, carol.ID, alice.ID, keys.ID, "c1", base.Add(2*time.Minute))
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, backpack.ID, "b2", base.Add(3*time.Minute))
	dbtest.SeedMessage(t, conn, carol.ID, bob.ID, keys.ID, "not for alice", base.Add(4*time.Minute))

	convs, err := svc.Conversations(context.Background(), policy.Actor{ID: alice.ID})
	require.NoError(t, err)
	require.Len(t, convs, 2)

	first := convs[0]
	assert.Equal(t, backpack.ID, first.ItemID)
	assert.Equal(t, bob.ID, first.OtherPartyID)
	require.Len(t, first.Messages, 3)
	assert.Equal(t, []string{"b1", "a1", "b2"}, []string{first.Messages[0].Body, first.Messages[1].Body, first.Messages[2].Body})
	assert.Equal(t, 2, first.UnreadCount)
	require.NotNil(t, first.Item)
	assert.Equal(t, "Backpack", first.Item.Title)
	require.NotNil(t, first.OtherParty)
	assert.Equal(t, "bob", first.OtherParty.Handle)

	second := convs[1]
	assert.Equal(t, keys.ID, second.ItemID)
	assert.Equal(t, carol.ID, second.OtherPartyID)
	assert.Len(t, second.Messages, 1)
}

func TestConversationHidesItemsNoLongerVisible(t *testing.T) {
	svc, conn := newTestService(t)
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Gloves", enums.ItemKindFound, enums.ItemStatusArchived)
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, item.ID, "hello", time.Now().UTC())

	convs, err := svc.Conversations(context.Background(), policy.Actor{ID: bob.ID})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Nil(t, convs[0].Item)
	assert.Zero(t, convs[0].UnreadCount)

	convs, err = svc.Conversations(context.Background(), policy.Actor{ID: alice.ID})
	require.NoError(t, err)
	require.NotNil(t, convs[0].Item)
}

func TestMarkReadRecipientOnly(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	carol := dbtest.SeedUser(t, conn, "carol", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Phone", enums.ItemKindFound, enums.ItemStatusActive)
	msg := dbtest.SeedMessage(t, conn, bob.ID, alice.ID, item.ID, "hi", time.Now().UTC())

	_, err := svc.MarkRead(ctx, policy.Actor{ID: bob.ID}, msg.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), err)

	_, err = svc.MarkRead(ctx, policy.Actor{ID: carol.ID}, msg.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), err)

	_, err = svc.MarkRead(ctx, policy.Actor{ID: carol.ID, Admin: true}, msg.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), err)

	read, err := svc.MarkRead(ctx, policy.Actor{ID: alice.ID}, msg.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "messages", "id = ? AND read = ?", msg.ID, true))

	_, err = svc.MarkRead(ctx, policy.Actor{ID: alice.ID}, msg.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "outbox_events", "aggregate_type = ?", "messages"))
}

func TestMarkConversationRead(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, conn, "alice", enums.ProfileRoleUser)
	bob := dbtest.SeedUser(t, conn, "bob", enums.ProfileRoleUser)
	item := dbtest.SeedItem(t, conn, alice.ID, "Phone", enums.ItemKindFound, enums.ItemStatusActive)
	other := dbtest.SeedItem(t, conn, alice.ID, "Charger", enums.ItemKindFound, enums.ItemStatusActive)
	now := time.Now().UTC()
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, item.ID, "one", now)
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, item.ID, "two", now.Add(time.Second))
	dbtest.SeedMessage(t, conn, alice.ID, bob.ID, item.ID, "reply", now.Add(2*time.Second))
	dbtest.SeedMessage(t, conn, bob.ID, alice.ID, other.ID, "elsewhere", now.Add(3*time.Second))

	marked, err := svc.MarkConversationRead(ctx, policy.Actor{ID: alice.ID}, item.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, marked)
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "messages", "recipient_id = ? AND read = ?", alice.ID, false))

	thread, err := svc.Thread(ctx, policy.Actor{ID: alice.ID}, item.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 3)
	assert.Zero(t, thread.UnreadCount)
	assert.Equal(t, "reply", thread.Messages[2].Body)
}

func TestGroupConversationsEmpty(t *testing.T) {
	assert.Empty(t, groupConversations(uuid.New(), nil))
}

func TestMessageNotificationFallsBackToGenericBody(t *testing.T) {
	msg := &models.Message{RecipientID: uuid.New(), Body: "hello"}
	n := messageNotification(msg, nil)
	assert.Equal(t, "New message", n.Title)
	assert.Equal(t, "You have a new message.", n.Body)
	assert.Equal(t, enums.NotificationTypeMessage, n.Type)
}
