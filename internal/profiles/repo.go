package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

// Repository handles profile persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to profile operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByID loads a profile by id.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.Conn(ctx, tx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByHandle loads a profile by its handle.
func (r *Repository) FindByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.DB(ctx).Where("handle = ?", strings.ToLower(handle)).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByIDs loads the profiles for ids in one query, keyed by id.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Profile
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// HandleExists checks the handle inside tx when given.
func (r *Repository) HandleExists(ctx context.Context, tx *gorm.DB, handle string) (bool, error) {
	var count int64
	if err := r.Conn(ctx, tx).Model(&models.Profile{}).Where("handle = ?", handle).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a profile row.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	return r.Conn(ctx, tx).Create(profile).Error
}

// Update writes the mutable columns of profile.
func (r *Repository) Update(ctx context.Context, tx *gorm.DB, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	return r.Conn(ctx, tx).Model(profile).
		Select("handle", "display_name", "avatar_url", "role", "updated_at").
		Updates(profile).Error
}

// List returns profiles newest first.
func (r *Repository) List(ctx context.Context, cursor *pagination.Cursor, limit int, role *enums.ProfileRole) ([]models.Profile, error) {
	q := r.DB(ctx).Model(&models.Profile{})
	if role != nil {
		q = q.Where("role = ?", *role)
	}
	var rows []models.Profile
	if err := q.Scopes(pagination.NewestFirst("profiles", cursor, limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LookupRole reads only the role column of one profile. It runs outside any
// actor scope and is what the policy resolver uses.
func (r *Repository) LookupRole(ctx context.Context, id uuid.UUID) (enums.ProfileRole, error) {
	var role string
	err := r.DB(ctx).Model(&models.Profile{}).
		Select("role").
		Where("id = ?", id).
		Limit(1).
		Scan(&role).Error
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", policy.ErrNoProfile
	}
	parsed, err := enums.ParseProfileRole(role)
	if err != nil {
		return "", errors.Join(err, fmt.Errorf("profile %s", id))
	}
	return parsed, nil
}
