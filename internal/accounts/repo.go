package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
)

// Repository handles account persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to account operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByEmail loads an account by its normalized email.
func (r *Repository) FindByEmail(ctx context.Context, tx *gorm.DB, email string) (*models.Account, error) {
	var account models.Account
	if err := r.Conn(ctx, tx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByID loads an account by id.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.Conn(ctx, tx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Create inserts an account row.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, account *models.Account) error {
	if account == nil {
		return fmt.Errorf("account is required")
	}
	return r.Conn(ctx, tx).Create(account).Error
}

// UpdateLastLogin stamps the last successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error
}

// DeleteCascade removes everything an account owns or is referenced by, child
// tables first, then the profile and the account. tx must be a transaction.
func (r *Repository) DeleteCascade(tx *gorm.DB, id uuid.UUID) (DeleteCounts, error) {
	var counts DeleteCounts
	if tx == nil {
		return counts, gorm.ErrInvalidTransaction
	}

	ownedItems := func() *gorm.DB {
		return tx.Model(&models.Item{}).Select("id").Where("user_id = ?", id)
	}

	steps := []struct {
		target *int64
		run    func() *gorm.DB
	}{
		{&counts.Notifications, func() *gorm.DB {
			return tx.Where("user_id = ?", id).Delete(&models.Notification{})
		}},
		{&counts.Messages, func() *gorm.DB {
			return tx.Where("sender_id = ? OR recipient_id = ? OR item_id IN (?)", id, id, ownedItems()).Delete(&models.Message{})
		}},
		{&counts.Claims, func() *gorm.DB {
			return tx.Where("claimant_id = ? OR item_id IN (?)", id, ownedItems()).Delete(&models.Claim{})
		}},
		{&counts.Items, func() *gorm.DB {
			return tx.Where("user_id = ?", id).Delete(&models.Item{})
		}},
		{&counts.Profiles, func() *gorm.DB {
			return tx.Where("id = ?", id).Delete(&models.Profile{})
		}},
		{&counts.Accounts, func() *gorm.DB {
			return tx.Where("id = ?", id).Delete(&models.Account{})
		}},
	}
	for _, step := range steps {
		res := step.run()
		if res.Error != nil {
			return counts, res.Error
		}
		*step.target = res.RowsAffected
	}
	return counts, nil
}

// DeleteCounts reports the rows removed per table by DeleteCascade.
type DeleteCounts struct {
	Accounts      int64 `json:"accounts"`
	Profiles      int64 `json:"profiles"`
	Items         int64 `json:"items"`
	Claims        int64 `json:"claims"`
	Messages      int64 `json:"messages"`
	Notifications int64 `json:"notifications"`
}
