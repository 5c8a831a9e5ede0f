package auth

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/security"
)

const (
	maxDisplayNameLen = 80
	// handleAttempts bounds retries when a concurrent sign-up claims the
	// derived handle between the lookup and the insert.
	handleAttempts  = 5
	handleSavepoint = "profile_handle"
)

// RegisterService handles the sign-up transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
}

type accountWriter interface {
	FindByEmail(ctx context.Context, tx *gorm.DB, email string) (*models.Account, error)
	Create(ctx context.Context, tx *gorm.DB, account *models.Account) error
}

type profileWriter interface {
	HandleExists(ctx context.Context, tx *gorm.DB, handle string) (bool, error)
	Create(ctx context.Context, tx *gorm.DB, profile *models.Profile) error
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	Tx             db.TxRunner
	Accounts       accountWriter
	Profiles       profileWriter
	Feed           changefeed.Recorder
	PasswordConfig config.PasswordConfig
}

type registerService struct {
	tx          db.TxRunner
	accounts    accountWriter
	profiles    profileWriter
	feed        changefeed.Recorder
	passwordCfg config.PasswordConfig
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Accounts == nil || params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account and profile repositories required")
	}
	feed := params.Feed
	if feed == nil {
		feed = changefeed.Discard
	}
	return &registerService{
		tx:          params.Tx,
		accounts:    params.Accounts,
		profiles:    params.Profiles,
		feed:        feed,
		passwordCfg: params.PasswordConfig,
	}, nil
}

// Register creates the account and its profile in one transaction. The profile
// handle is derived from the requested handle or the email and made unique by
// suffixing; any failure leaves no account behind.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if err := security.ValidateStrength(req.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	var requestedHandle string
	if req.Handle != nil {
		requestedHandle = *req.Handle
	}
	var displayName string
	if req.DisplayName != nil {
		displayName = strings.TrimSpace(*req.DisplayName)
		if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name must be at most 80 characters")
		}
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var created *RegisterResponse
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.accounts.FindByEmail(ctx, tx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check account email")
		}

		account := &models.Account{Email: email, PasswordHash: passwordHash}
		if err := s.accounts.Create(ctx, tx, account); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
		}

		profile, err := s.createProfile(ctx, tx, account.ID, profiles.DeriveHandleCandidate(requestedHandle, email), displayName)
		if err != nil {
			return err
		}

		if err := s.feed.Record(ctx, tx, changefeed.Inserted(enums.AggregateProfile, profile.ID, profile).By(account.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record profile change")
		}

		created = &RegisterResponse{AccountID: account.ID, Email: account.Email, Profile: profile}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// createProfile inserts the profile under a savepoint so a handle collision
// with a concurrent registration can be rolled back and re-derived without
// losing the account row.
func (s *registerService) createProfile(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, candidate, displayName string) (*models.Profile, error) {
	exists := func(ctx context.Context, handle string) (bool, error) {
		return s.profiles.HandleExists(ctx, tx, handle)
	}
	for attempt := 0; attempt < handleAttempts; attempt++ {
		handle, err := profiles.UniqueHandle(ctx, exists, candidate)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "derive handle")
		}

		name := displayName
		if name == "" {
			name = handle
		}
		profile := &models.Profile{
			ID:          accountID,
			Handle:      handle,
			DisplayName: name,
			Role:        enums.ProfileRoleUser,
		}

		if err := tx.SavePoint(handleSavepoint).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create savepoint")
		}
		err = s.profiles.Create(ctx, tx, profile)
		if err == nil {
			return profile, nil
		}
		if !isHandleTaken(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create profile")
		}
		if rbErr := tx.RollbackTo(handleSavepoint).Error; rbErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback to savepoint")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "handle already taken")
}

func isHandleTaken(err error) bool {
	return db.IsUniqueViolation(err, "profiles_handle_key") || db.IsUniqueViolation(err, "profiles.handle")
}
