package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

func TestProfileUpdateOnlySelf(t *testing.T) {
	me := Actor{ID: uuid.New()}
	other := Actor{ID: uuid.New()}
	admin := Actor{ID: uuid.New(), Admin: true}
	profile := models.Profile{ID: me.ID}

	assert.NoError(t, Authorize(me, Profiles, Update, profile))
	assert.True(t, pkgerrors.IsCode(Authorize(other, Profiles, Update, profile), pkgerrors.CodeForbidden))
	// profile updates have no admin override
	assert.True(t, pkgerrors.IsCode(Authorize(admin, Profiles, Update, profile), pkgerrors.CodeForbidden))
	assert.NoError(t, Authorize(admin, Profiles, Delete, profile))
	assert.NoError(t, Authorize(other, Profiles, Select, profile))
}

func TestItemSelectPredicate(t *testing.T) {
	owner := Actor{ID: uuid.New()}
	stranger := Actor{ID: uuid.New()}
	admin := Actor{ID: uuid.New(), Admin: true}

	for _, status := range enums.ItemStatuses() {
		item := models.Item{UserID: owner.ID, Status: status}
		visible := status == enums.ItemStatusActive
		assert.Equal(t, visible, CanSelectItem(stranger, item), status)
		assert.True(t, CanSelectItem(owner, item), status)
		assert.True(t, CanSelectItem(admin, item), status)
	}

	archived := models.Item{UserID: owner.ID, Status: enums.ItemStatusArchived}
	err := Authorize(stranger, Items, Select, archived)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	// a write on a hidden row is indistinguishable from a missing row
	err = Authorize(stranger, Items, Update, archived)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestItemWritePredicates(t *testing.T) {
	owner := Actor{ID: uuid.New()}
	stranger := Actor{ID: uuid.New()}
	admin := Actor{ID: uuid.New(), Admin: true}
	item := models.Item{UserID: owner.ID, Status: enums.ItemStatusActive}

	assert.NoError(t, Authorize(owner, Items, Insert, item))
	assert.True(t, pkgerrors.IsCode(Authorize(stranger, Items, Insert, item), pkgerrors.CodeForbidden))
	assert.NoError(t, Authorize(admin, Items, Update, item))
	assert.True(t, pkgerrors.IsCode(Authorize(stranger, Items, Update, item), pkgerrors.CodeForbidden))
	assert.True(t, pkgerrors.IsCode(Authorize(owner, Items, Delete, item), pkgerrors.CodeForbidden))
	assert.NoError(t, Authorize(admin, Items, Delete, item))
}

func TestClaimPredicates(t *testing.T) {
	owner := Actor{ID: uuid.New()}
	claimant := Actor{ID: uuid.New()}
	stranger := Actor{ID: uuid.New()}
	row := ClaimRow{Claim: models.Claim{ClaimantID: claimant.ID}, ItemOwnerID: owner.ID}

	assert.True(t, CanSelectClaim(owner, row))
	assert.True(t, CanSelectClaim(claimant, row))
	assert.False(t, CanSelectClaim(stranger, row))
	assert.True(t, CanInsertClaim(claimant, row))
	assert.False(t, CanInsertClaim(owner, row))
	assert.True(t, CanUpdateClaim(owner, row))
	assert.True(t, pkgerrors.IsCode(Authorize(claimant, Claims, Update, row), pkgerrors.CodeForbidden))
	assert.True(t, pkgerrors.IsCode(Authorize(stranger, Claims, Update, row), pkgerrors.CodeNotFound))
}

func TestMessageAndNotificationPredicates(t *testing.T) {
	sender := Actor{ID: uuid.New()}
	recipient := Actor{ID: uuid.New()}
	admin := Actor{ID: uuid.New(), Admin: true}
	msg := models.Message{SenderID: sender.ID, RecipientID: recipient.ID}

	assert.True(t, CanSelectMessage(sender, msg))
	assert.True(t, CanSelectMessage(recipient, msg))
	assert.False(t, CanSelectMessage(admin, msg))
	assert.True(t, CanUpdateMessage(recipient, msg))
	assert.False(t, CanUpdateMessage(sender, msg))
	assert.False(t, CanDeleteMessage(admin, msg))

	n := models.Notification{UserID: recipient.ID}
	assert.True(t, CanSelectNotification(recipient, n))
	assert.False(t, CanSelectNotification(sender, n))
	assert.True(t, CanInsertNotification(sender, n))
	assert.False(t, CanDeleteNotification(admin, n))
	assert.True(t, CanDeleteNotification(System, n))
}

func TestAllowedRejectsWrongRowType(t *testing.T) {
	_, err := Allowed(Actor{}, Items, Select, models.Profile{})
	require.Error(t, err)
	_, err = Allowed(Actor{}, "accounts", Select, nil)
	require.Error(t, err)
}

func TestCanWriteObject(t *testing.T) {
	a := Actor{ID: uuid.New()}
	id := a.ID.String()

	assert.True(t, CanWriteObject(a, id+"/1700000000000.jpg"))
	assert.True(t, CanWriteObject(a, id+"-avatar.png"))
	assert.True(t, CanWriteObject(a, "/"+id+"/nested/file.jpg"))
	assert.False(t, CanWriteObject(a, uuid.NewString()+"/file.jpg"))
	assert.False(t, CanWriteObject(a, "file.jpg"))
	assert.False(t, CanWriteObject(Actor{}, "/file.jpg"))
}

func TestScopesMatchPredicates(t *testing.T) {
	conn := dbtest.Open(t)
	owner := dbtest.SeedUser(t, conn, "owner", enums.ProfileRoleUser)
	other := dbtest.SeedUser(t, conn, "other", enums.ProfileRoleUser)
	dbtest.SeedItem(t, conn, owner.ID, "active", enums.ItemKindLost, enums.ItemStatusActive)
	dbtest.SeedItem(t, conn, owner.ID, "claimed", enums.ItemKindFound, enums.ItemStatusClaimed)
	dbtest.SeedItem(t, conn, owner.ID, "archived", enums.ItemKindLost, enums.ItemStatusArchived)

	count := func(a Actor) int64 {
		var n int64
		require.NoError(t, conn.Model(&models.Item{}).Scopes(ItemsVisibleTo(a)).Count(&n).Error)
		return n
	}
	assert.EqualValues(t, 3, count(Actor{ID: owner.ID}))
	assert.EqualValues(t, 1, count(Actor{ID: other.ID}))
	assert.EqualValues(t, 3, count(Actor{ID: other.ID, Admin: true}))
}

type fakeRoles struct {
	lookupFn func(ctx context.Context, id uuid.UUID) (enums.ProfileRole, error)
}

func (f fakeRoles) LookupRole(ctx context.Context, id uuid.UUID) (enums.ProfileRole, error) {
	return f.lookupFn(ctx, id)
}

func TestResolver(t *testing.T) {
	adminID := uuid.New()
	orphanID := uuid.New()
	resolver, err := NewResolver(fakeRoles{lookupFn: func(_ context.Context, id uuid.UUID) (enums.ProfileRole, error) {
		switch id {
		case adminID:
			return enums.ProfileRoleAdmin, nil
		case orphanID:
			return "", ErrNoProfile
		default:
			return "", errors.New("db down")
		}
	}})
	require.NoError(t, err)

	actor, err := resolver.Resolve(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, actor.Admin)

	actor, err = resolver.Resolve(context.Background(), orphanID)
	require.NoError(t, err)
	assert.False(t, actor.Admin)
	assert.Equal(t, orphanID, actor.ID)

	_, err = resolver.Resolve(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = resolver.Resolve(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	ctx := WithActor(context.Background(), Actor{ID: adminID, Admin: true})
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, adminID, got.ID)
}
