package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Item is a lost or found report.
type Item struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID      uuid.UUID        `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Title       string           `gorm:"type:text;not null" json:"title"`
	Description string           `gorm:"type:text;not null;default:''" json:"description"`
	ImageURL    *string          `gorm:"column:image_url" json:"image_url"`
	Category    string           `gorm:"type:text;not null;default:''" json:"category"`
	Tags        pq.StringArray   `gorm:"type:text[];not null;default:'{}'" json:"tags"`
	Location    string           `gorm:"type:text;not null;default:''" json:"location"`
	Status      enums.ItemStatus `gorm:"type:item_status;not null;default:active" json:"status"`
	Kind        enums.ItemKind   `gorm:"type:item_kind;not null" json:"kind"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	if i.Status == "" {
		i.Status = enums.ItemStatusActive
	}
	if i.Tags == nil {
		i.Tags = pq.StringArray{}
	}
	return nil
}
