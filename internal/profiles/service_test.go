package profiles

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *Repository, *dbtestHandles) {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	repository := NewRepository(conn)
	feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	svc, err := NewService(repository, client, feed)
	require.NoError(t, err)
	return svc, repository, &dbtestHandles{t: t, conn: conn}
}

func TestUpdateMineOnlyTouchesOwnProfile(t *testing.T) {
	svc, _, h := newTestService(t)
	alice := h.user("alice", enums.ProfileRoleUser)

	name := "Alice A."
	avatar := "https://cdn.example.com/a.jpg"
	updated, err := svc.UpdateMine(context.Background(), policy.Actor{ID: alice.ID}, UpdateInput{DisplayName: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", updated.DisplayName)
	require.NotNil(t, updated.AvatarURL)
	assert.EqualValues(t, 1, h.count("outbox_events", "aggregate_type = ?", "profiles"))
}

func TestUpdateMineHandleConflict(t *testing.T) {
	svc, _, h := newTestService(t)
	h.user("alice", enums.ProfileRoleUser)
	bob := h.user("bob", enums.ProfileRoleUser)

	taken := "alice"
	_, err := svc.UpdateMine(context.Background(), policy.Actor{ID: bob.ID}, UpdateInput{Handle: &taken})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), err)

	bad := "Bob!"
	_, err = svc.UpdateMine(context.Background(), policy.Actor{ID: bob.ID}, UpdateInput{Handle: &bad})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), err)
	assert.Zero(t, h.count("outbox_events", ""))
}

func TestSetRoleRequiresAdmin(t *testing.T) {
	svc, repository, h := newTestService(t)
	admin := h.user("root", enums.ProfileRoleAdmin)
	bob := h.user("bob", enums.ProfileRoleUser)

	_, err := svc.SetRole(context.Background(), policy.Actor{ID: bob.ID}, bob.ID, enums.ProfileRoleAdmin)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	updated, err := svc.SetRole(context.Background(), policy.Actor{ID: admin.ID, Admin: true}, bob.ID, enums.ProfileRoleAdmin)
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin())

	role, err := repository.LookupRole(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ProfileRoleAdmin, role)
}

func TestLookupRoleMissingProfile(t *testing.T) {
	_, repository, _ := newTestService(t)
	_, err := repository.LookupRole(context.Background(), uuid.New())
	assert.ErrorIs(t, err, policy.ErrNoProfile)
}

func TestGetByHandleAndList(t *testing.T) {
	svc, _, h := newTestService(t)
	admin := h.user("root", enums.ProfileRoleAdmin)
	h.user("alice", enums.ProfileRoleUser)
	h.user("bob", enums.ProfileRoleUser)

	found, err := svc.GetByHandle(context.Background(), policy.Actor{}, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Handle)

	_, err = svc.GetByHandle(context.Background(), policy.Actor{}, "nobody")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.List(context.Background(), policy.Actor{ID: admin.ID}, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	page, err := svc.List(context.Background(), policy.Actor{ID: admin.ID, Admin: true}, ListParams{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.Cursor)

	rest, err := svc.List(context.Background(), policy.Actor{ID: admin.ID, Admin: true}, ListParams{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)
}
