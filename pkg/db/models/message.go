package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a directed note between two accounts about one item. Body is immutable.
type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SenderID    uuid.UUID `gorm:"column:sender_id;type:uuid;not null;index" json:"sender_id"`
	RecipientID uuid.UUID `gorm:"column:recipient_id;type:uuid;not null;index" json:"recipient_id"`
	ItemID      uuid.UUID `gorm:"column:item_id;type:uuid;not null;index" json:"item_id"`
	Body        string    `gorm:"type:text;not null" json:"body"`
	Read        bool      `gorm:"column:read;not null;default:false" json:"read"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
