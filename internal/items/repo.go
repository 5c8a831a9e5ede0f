package items

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

// Repository handles item persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to item operations.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// Filters narrows an item listing. A nil Status means "active" unless an
// owner is given.
type Filters struct {
	Kind     *enums.ItemKind
	Status   *enums.ItemStatus
	Category string
	OwnerID  *uuid.UUID
	Query    string
}

type listQuery struct {
	Actor   policy.Actor
	Filters Filters
	Cursor  *pagination.Cursor
	Limit   int
}

// Create inserts an item row.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, item *models.Item) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	return r.Conn(ctx, tx).Create(item).Error
}

// FindByID loads an item regardless of visibility.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	if err := r.Conn(ctx, tx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Update writes the editable columns. kind is never written.
func (r *Repository) Update(ctx context.Context, tx *gorm.DB, item *models.Item) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	return r.Conn(ctx, tx).Model(item).
		Select("title", "description", "image_url", "category", "tags", "location", "status", "updated_at").
		Updates(item).Error
}

// TransitionStatus moves an item from one status to another only if it is
// still in from. It reports whether a row changed.
func (r *Repository) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to enums.ItemStatus) (bool, error) {
	result := r.Conn(ctx, tx).Model(&models.Item{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": db.NowUTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteCascade removes the item with its messages and claims. tx must be a
// transaction.
func (r *Repository) DeleteCascade(tx *gorm.DB, id uuid.UUID) error {
	if err := tx.Where("item_id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := tx.Where("item_id = ?", id).Delete(&models.Claim{}).Error; err != nil {
		return fmt.Errorf("delete claims: %w", err)
	}
	result := tx.Where("id = ?", id).Delete(&models.Item{})
	if result.Error != nil {
		return fmt.Errorf("delete item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List returns visible items newest first, one row past the page.
func (r *Repository) List(ctx context.Context, q listQuery) ([]models.Item, error) {
	query := r.DB(ctx).Model(&models.Item{}).Scopes(policy.ItemsVisibleTo(q.Actor))

	f := q.Filters
	switch {
	case f.Status != nil:
		query = query.Where("items.status = ?", *f.Status)
	case f.OwnerID == nil:
		query = query.Where("items.status = ?", enums.ItemStatusActive)
	}
	if f.Kind != nil {
		query = query.Where("items.kind = ?", *f.Kind)
	}
	if category := strings.TrimSpace(f.Category); category != "" {
		query = query.Where("items.category = ?", category)
	}
	if f.OwnerID != nil {
		query = query.Where("items.user_id = ?", *f.OwnerID)
	}
	if search := strings.TrimSpace(f.Query); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where(
			"(LOWER(items.title) LIKE ? ESCAPE '\\' OR LOWER(items.description) LIKE ? ESCAPE '\\' OR LOWER(items.location) LIKE ? ESCAPE '\\')",
			pattern, pattern, pattern,
		)
	}

	var rows []models.Item
	if err := query.Scopes(pagination.NewestFirst("items", q.Cursor, q.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindVisibleByIDs loads the subset of ids the actor may see.
func (r *Repository) FindVisibleByIDs(ctx context.Context, actor policy.Actor, ids []uuid.UUID) ([]models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Item
	err := r.DB(ctx).
		Scopes(policy.ItemsVisibleTo(actor)).
		Where("items.id IN ?", ids).
		Find(&rows).Error
	return rows, err
}

// FindByIDs loads items by id, keyed by id, without a visibility filter.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error) {
	out := make(map[uuid.UUID]models.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Item
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Each walks every item in id order in batches, for reindexing.
func (r *Repository) Each(ctx context.Context, batch int, fn func([]models.Item) error) error {
	var rows []models.Item
	return r.DB(ctx).Order("id").FindInBatches(&rows, batch, func(tx *gorm.DB, _ int) error {
		return fn(rows)
	}).Error
}

// Stats aggregates the dashboard counters for one account.
func (r *Repository) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	stats := &Stats{ItemsByStatus: map[enums.ItemStatus]int64{}}
	for _, status := range enums.ItemStatuses() {
		stats.ItemsByStatus[status] = 0
	}

	var byStatus []struct {
		Status enums.ItemStatus
		Count  int64
	}
	if err := r.DB(ctx).Model(&models.Item{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	for _, row := range byStatus {
		stats.ItemsByStatus[row.Status] = row.Count
		stats.TotalItems += row.Count
	}

	if err := r.DB(ctx).Model(&models.Claim{}).
		Joins("JOIN items ON items.id = claims.item_id").
		Where("items.user_id = ? AND claims.status = ?", userID, enums.ClaimStatusPending).
		Count(&stats.PendingClaimsReceived).Error; err != nil {
		return nil, fmt.Errorf("count pending claims: %w", err)
	}
	if err := r.DB(ctx).Model(&models.Claim{}).
		Where("claimant_id = ?", userID).
		Count(&stats.ClaimsMade).Error; err != nil {
		return nil, fmt.Errorf("count claims made: %w", err)
	}
	if err := r.DB(ctx).Model(&models.Message{}).
		Where("recipient_id = ? AND read = ?", userID, false).
		Count(&stats.UnreadMessages).Error; err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}
	if err := r.DB(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&stats.UnreadNotifications).Error; err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	return stats, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
