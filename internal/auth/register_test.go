package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/accounts"
	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
)

type failingProfiles struct {
	*profiles.Repository
	createErr error
}

func (f failingProfiles) Create(ctx context.Context, tx *gorm.DB, profile *models.Profile) error {
	return f.createErr
}

func newRegisterService(t *testing.T, profileRepo profileWriter) (RegisterService, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	if profileRepo == nil {
		profileRepo = profiles.NewRepository(conn)
	}
	feed, err := changefeed.New(outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	svc, err := NewRegisterService(RegisterServiceParams{
		Tx:             client,
		Accounts:       accounts.NewRepository(conn),
		Profiles:       profileRepo,
		Feed:           feed,
		PasswordConfig: config.PasswordConfig{},
	})
	require.NoError(t, err)
	return svc, conn
}

func TestRegisterDerivesUniqueHandleFromEmail(t *testing.T) {
	svc, conn := newRegisterService(t, nil)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterRequest{Email: "John.Smith@example.com", Password: "hunter22a"})
	require.NoError(t, err)
	assert.Equal(t, "johnsmith", first.Profile.Handle)
	assert.Equal(t, "johnsmith", first.Profile.DisplayName)
	assert.Equal(t, enums.ProfileRoleUser, first.Profile.Role)
	assert.Equal(t, first.AccountID, first.Profile.ID)

	second, err := svc.Register(ctx, RegisterRequest{Email: "john_smith@other.org", Password: "hunter22a"})
	require.NoError(t, err)
	assert.Equal(t, "john_smith", second.Profile.Handle)

	third, err := svc.Register(ctx, RegisterRequest{Email: "johnsmith@other.org", Password: "hunter22a"})
	require.NoError(t, err)
	assert.Equal(t, "johnsmith1", third.Profile.Handle)

	assert.EqualValues(t, 3, dbtest.Count(t, conn, "profiles", ""))
	assert.EqualValues(t, 3, dbtest.Count(t, conn, "outbox_events", "aggregate_type = ? AND event_type = ?", "profiles", "row_inserted"))
}

func TestRegisterUsesRequestedHandleAndDisplayName(t *testing.T) {
	svc, _ := newRegisterService(t, nil)
	handle := "Backpack Finder!"
	name := "Jo"

	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "jo@example.com",
		Password:    "hunter22a",
		Handle:      &handle,
		DisplayName: &name,
	})
	require.NoError(t, err)
	assert.Equal(t, "backpackfinder", resp.Profile.Handle)
	assert.Equal(t, "Jo", resp.Profile.DisplayName)
}

func TestRegisterRejectsDuplicateEmailAndWeakPassword(t *testing.T) {
	svc, conn := newRegisterService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "hunter22a"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Email: " A@Example.com ", Password: "hunter22a"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), err)

	_, err = svc.Register(ctx, RegisterRequest{Email: "b@example.com", Password: "short"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), err)

	assert.EqualValues(t, 1, dbtest.Count(t, conn, "accounts", ""))
}

func TestRegisterRollsBackAccountWhenProfileInsertFails(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	svc, err := NewRegisterService(RegisterServiceParams{
		Tx:       client,
		Accounts: accounts.NewRepository(conn),
		Profiles: failingProfiles{Repository: profiles.NewRepository(conn), createErr: errors.New("insert failed")},
	})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterRequest{Email: "doomed@example.com", Password: "hunter22a"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), err)
	assert.Zero(t, dbtest.Count(t, conn, "accounts", ""))
	assert.Zero(t, dbtest.Count(t, conn, "profiles", ""))
	assert.Zero(t, dbtest.Count(t, conn, "outbox_events", ""))
}

// staleHandles reports a handle as free for the first n lookups, as happens
// when another sign-up has inserted it but not yet committed.
type staleHandles struct {
	*profiles.Repository
	stale int
}

func (s *staleHandles) HandleExists(ctx context.Context, tx *gorm.DB, handle string) (bool, error) {
	if s.stale > 0 {
		s.stale--
		return false, nil
	}
	return s.Repository.HandleExists(ctx, tx, handle)
}

func TestRegisterRetriesHandleTakenConcurrently(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	dbtest.SeedUser(t, conn, "johnsmith", enums.ProfileRoleUser)

	svc, err := NewRegisterService(RegisterServiceParams{
		Tx:       client,
		Accounts: accounts.NewRepository(conn),
		Profiles: &staleHandles{Repository: profiles.NewRepository(conn), stale: 1},
	})
	require.NoError(t, err)

	resp, err := svc.Register(context.Background(), RegisterRequest{Email: "john.smith@example.org", Password: "hunter22a"})
	require.NoError(t, err)
	assert.Equal(t, "johnsmith1", resp.Profile.Handle)
	assert.EqualValues(t, 2, dbtest.Count(t, conn, "accounts", ""))
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "profiles", "handle = ?", "johnsmith1"))
}

func TestRegisterGivesUpWhenHandleKeepsColliding(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	dbtest.SeedUser(t, conn, "johnsmith", enums.ProfileRoleUser)

	svc, err := NewRegisterService(RegisterServiceParams{
		Tx:       client,
		Accounts: accounts.NewRepository(conn),
		Profiles: &staleHandles{Repository: profiles.NewRepository(conn), stale: handleAttempts},
	})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterRequest{Email: "johnsmith@example.org", Password: "hunter22a"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), err)
	assert.EqualValues(t, 1, dbtest.Count(t, conn, "accounts", ""))
}
