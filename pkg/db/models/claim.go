package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Claim is one claimant's assertion on one item; (item_id, claimant_id) is unique.
type Claim struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ItemID     uuid.UUID         `gorm:"column:item_id;type:uuid;not null;uniqueIndex:claims_item_claimant_key" json:"item_id"`
	ClaimantID uuid.UUID         `gorm:"column:claimant_id;type:uuid;not null;uniqueIndex:claims_item_claimant_key" json:"claimant_id"`
	Message    string            `gorm:"type:text;not null;default:''" json:"message"`
	Status     enums.ClaimStatus `gorm:"type:claim_status;not null;default:pending" json:"status"`
	DecidedAt  *time.Time        `gorm:"column:decided_at" json:"decided_at"`
	DecidedBy  *uuid.UUID        `gorm:"column:decided_by;type:uuid" json:"decided_by"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (c *Claim) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	if c.Status == "" {
		c.Status = enums.ClaimStatusPending
	}
	return nil
}
