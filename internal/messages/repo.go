package messages

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
)

// Repository handles message persistence.
type Repository struct {
	repo.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, message *models.Message) error {
	if message == nil {
		return fmt.Errorf("message is required")
	}
	return r.Conn(ctx, tx).Create(message).Error
}

// FindVisible loads a message the actor sent or received.
func (r *Repository) FindVisible(ctx context.Context, tx *gorm.DB, actor policy.Actor, id uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := r.Conn(ctx, tx).
		Scopes(policy.MessagesVisibleTo(actor)).
		Where("messages.id = ?", id).
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// Involving returns every message the actor sent or received, oldest first.
func (r *Repository) Involving(ctx context.Context, actor policy.Actor) ([]models.Message, error) {
	var rows []models.Message
	err := r.DB(ctx).
		Scopes(policy.MessagesVisibleTo(actor)).
		Order("messages.created_at ASC").
		Order("messages.id ASC").
		Find(&rows).Error
	return rows, err
}

// Thread returns the messages exchanged between actor and other about item,
// oldest first.
func (r *Repository) Thread(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) ([]models.Message, error) {
	var rows []models.Message
	err := r.DB(ctx).
		Scopes(policy.MessagesVisibleTo(actor)).
		Where("messages.item_id = ?", itemID).
		Where("(messages.sender_id = ? OR messages.recipient_id = ?)", otherID, otherID).
		Order("messages.created_at ASC").
		Order("messages.id ASC").
		Find(&rows).Error
	return rows, err
}

// HasContact reports whether the two accounts already share a thread or a
// claim on item.
func (r *Repository) HasContact(ctx context.Context, tx *gorm.DB, itemID, senderID, recipientID uuid.UUID) (bool, error) {
	conn := r.Conn(ctx, tx)
	var count int64
	err := conn.Model(&models.Message{}).
		Where("item_id = ?", itemID).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", senderID, recipientID, recipientID, senderID).
		Count(&count).Error
	if err != nil || count > 0 {
		return count > 0, err
	}
	err = conn.Model(&models.Claim{}).
		Where("item_id = ? AND claimant_id IN ?", itemID, []uuid.UUID{senderID, recipientID}).
		Count(&count).Error
	return count > 0, err
}

// MarkRead flags one message read. It reports false when it already was.
func (r *Repository) MarkRead(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	result := r.Conn(ctx, tx).Model(&models.Message{}).
		Where("id = ? AND read = ?", id, false).
		Update("read", true)
	return result.RowsAffected > 0, result.Error
}

// UnreadInThread lists unread messages sent by sender to recipient about item.
func (r *Repository) UnreadInThread(ctx context.Context, tx *gorm.DB, itemID, senderID, recipientID uuid.UUID) ([]models.Message, error) {
	var rows []models.Message
	err := r.Conn(ctx, tx).
		Where("item_id = ? AND sender_id = ? AND recipient_id = ? AND read = ?", itemID, senderID, recipientID, false).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// MarkIDsRead flags the given messages read.
func (r *Repository) MarkIDsRead(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.Conn(ctx, tx).Model(&models.Message{}).
		Where("id IN ? AND read = ?", ids, false).
		Update("read", true)
	return result.RowsAffected, result.Error
}
