package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Notification is a system-generated alert to one account.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Type      enums.NotificationType `gorm:"type:text;not null" json:"type"`
	Title     string                 `gorm:"type:text;not null" json:"title"`
	Body      string                 `gorm:"type:text;not null;default:''" json:"body"`
	Read      bool                   `gorm:"column:read;not null;default:false" json:"read"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	assignID(&n.ID)
	return nil
}
