package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

// Repository handles claim persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to claim operations.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

type listQuery struct {
	Actor       policy.Actor
	ItemID      *uuid.UUID
	ClaimantID  *uuid.UUID
	ItemOwnerID *uuid.UUID
	Status      *enums.ClaimStatus
	Cursor      *pagination.Cursor
	Limit       int
}

// Create inserts a claim row.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, claim *models.Claim) error {
	if claim == nil {
		return fmt.Errorf("claim is required")
	}
	return r.Conn(ctx, tx).Create(claim).Error
}

// FindByID loads a claim regardless of visibility.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Claim, error) {
	var claim models.Claim
	if err := r.Conn(ctx, tx).Where("id = ?", id).First(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

// Exists reports whether claimant already claimed item.
func (r *Repository) Exists(ctx context.Context, tx *gorm.DB, itemID, claimantID uuid.UUID) (bool, error) {
	var count int64
	err := r.Conn(ctx, tx).Model(&models.Claim{}).
		Where("item_id = ? AND claimant_id = ?", itemID, claimantID).
		Count(&count).Error
	return count > 0, err
}

// Decide moves a pending claim to status. It reports false when the claim was
// no longer pending.
func (r *Repository) Decide(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.ClaimStatus, decidedBy uuid.UUID, at time.Time) (bool, error) {
	result := r.Conn(ctx, tx).Model(&models.Claim{}).
		Where("id = ? AND status = ?", id, enums.ClaimStatusPending).
		Updates(map[string]any{
			"status":     status,
			"decided_at": at.UTC(),
			"decided_by": decidedBy,
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List returns visible claims newest first, one row past the page.
func (r *Repository) List(ctx context.Context, q listQuery) ([]models.Claim, error) {
	query := r.DB(ctx).Model(&models.Claim{}).Scopes(policy.ClaimsVisibleTo(q.Actor))
	if q.ItemID != nil {
		query = query.Where("claims.item_id = ?", *q.ItemID)
	}
	if q.ClaimantID != nil {
		query = query.Where("claims.claimant_id = ?", *q.ClaimantID)
	}
	if q.ItemOwnerID != nil {
		query = query.Where("claims.item_id IN (?)", r.DB(ctx).Model(&models.Item{}).Select("id").Where("user_id = ?", *q.ItemOwnerID))
	}
	if q.Status != nil {
		query = query.Where("claims.status = ?", *q.Status)
	}

	var rows []models.Claim
	if err := query.Scopes(pagination.NewestFirst("claims", q.Cursor, q.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ApprovedWithOpenItem lists approved claims whose item is still active.
func (r *Repository) ApprovedWithOpenItem(ctx context.Context, limit int) ([]models.Claim, error) {
	var rows []models.Claim
	err := r.DB(ctx).Model(&models.Claim{}).
		Joins("JOIN items ON items.id = claims.item_id").
		Where("claims.status = ? AND items.status = ?", enums.ClaimStatusApproved, enums.ItemStatusActive).
		Order("claims.decided_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
