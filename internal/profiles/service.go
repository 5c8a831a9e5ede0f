package profiles

import (
	"context"
	"strings"
	"unicode/utf8"

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

const maxDisplayNameLen = 80

type profileRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Profile, error)
	FindByHandle(ctx context.Context, handle string) (*models.Profile, error)
	Update(ctx context.Context, tx *gorm.DB, profile *models.Profile) error
	List(ctx context.Context, cursor *pagination.Cursor, limit int, role *enums.ProfileRole) ([]models.Profile, error)
}

// Service exposes profile reads and edits.
type Service interface {
	Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*models.Profile, error)
	GetByHandle(ctx context.Context, actor policy.Actor, handle string) (*models.Profile, error)
	UpdateMine(ctx context.Context, actor policy.Actor, input UpdateInput) (*models.Profile, error)
	SetAvatar(ctx context.Context, actor policy.Actor, url string) (*models.Profile, error)
	List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error)
	SetRole(ctx context.Context, actor policy.Actor, id uuid.UUID, role enums.ProfileRole) (*models.Profile, error)
}

// UpdateInput carries the optional fields of a profile edit.
type UpdateInput struct {
	Handle      *string
	DisplayName *string
	AvatarURL   *string
}

// ListParams configures the admin profile listing.
type ListParams struct {
	Limit  int
	Cursor string
	Role   *enums.ProfileRole
}

// ListResult wraps a page of profiles.
type ListResult struct {
	Items  []models.Profile `json:"items"`
	Cursor string           `json:"cursor"`
}

type service struct {
	repo profileRepository
	tx   db.TxRunner
	feed changefeed.Recorder
}

// NewService wires the profile service.
func NewService(repository profileRepository, tx db.TxRunner, feed changefeed.Recorder) (Service, error) {
	if repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "profile repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if feed == nil {
		feed = changefeed.Discard
	}
	return &service{repo: repository, tx: tx, feed: feed}, nil
}

func (s *service) Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*models.Profile, error) {
	profile, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, repo.NotFoundAs(err, "profile")
	}
	if err := policy.Authorize(actor, policy.Profiles, policy.Select, *profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *service) GetByHandle(ctx context.Context, actor policy.Actor, handle string) (*models.Profile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "handle is required")
	}
	profile, err := s.repo.FindByHandle(ctx, handle)
	if err != nil {
		return nil, repo.NotFoundAs(err, "profile")
	}
	if err := policy.Authorize(actor, policy.Profiles, policy.Select, *profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *service) UpdateMine(ctx context.Context, actor policy.Actor, input UpdateInput) (*models.Profile, error) {
	return s.update(ctx, actor, actor.ID, func(profile *models.Profile) error {
		if input.Handle != nil {
			handle := strings.TrimSpace(*input.Handle)
			if NormalizeHandle(handle) != handle || !ValidHandle(handle) {
				return pkgerrors.New(pkgerrors.CodeValidation, "handle must be 3-30 characters of a-z, 0-9 or _").
					WithDetails(map[string]string{"handle": handle})
			}
			profile.Handle = handle
		}
		if input.DisplayName != nil {
			name := strings.TrimSpace(*input.DisplayName)
			if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
				return pkgerrors.New(pkgerrors.CodeValidation, "display name must be 1-80 characters")
			}
			profile.DisplayName = name
		}
		if input.AvatarURL != nil {
			profile.AvatarURL = emptyToNil(*input.AvatarURL)
		}
		return nil
	}, policy.Update)
}

func (s *service) SetAvatar(ctx context.Context, actor policy.Actor, url string) (*models.Profile, error) {
	return s.update(ctx, actor, actor.ID, func(profile *models.Profile) error {
		profile.AvatarURL = emptyToNil(url)
		return nil
	}, policy.Update)
}

func (s *service) List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error) {
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, cursor, params.Limit, params.Role)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list profiles")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(p models.Profile) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return &ListResult{Items: rows, Cursor: next}, nil
}

// SetRole promotes or demotes a profile. Only admins may change roles.
func (s *service) SetRole(ctx context.Context, actor policy.Actor, id uuid.UUID, role enums.ProfileRole) (*models.Profile, error) {
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", role)
	}
	return s.update(ctx, actor, id, func(profile *models.Profile) error {
		profile.Role = role
		return nil
	}, "")
}

// update loads the profile inside a transaction, checks op against it when
// op is set, applies mutate and records the change.
func (s *service) update(ctx context.Context, actor policy.Actor, id uuid.UUID, mutate func(*models.Profile) error, op policy.Op) (*models.Profile, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	var updated *models.Profile
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		profile, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return repo.NotFoundAs(err, "profile")
		}
		if op != "" {
			if err := policy.Authorize(actor, policy.Profiles, op, *profile); err != nil {
				return err
			}
		}
		if err := mutate(profile); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, profile); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "handle already taken")
			}
			if db.IsCheckViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid profile value")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile")
		}
		if err := s.feed.Record(ctx, tx, changefeed.Updated(enums.AggregateProfile, profile.ID, profile).By(actor.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record profile change")
		}
		updated = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func emptyToNil(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
