package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Profile extends an Account with its public handle and role.
type Profile struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Handle      string            `gorm:"type:text;not null;uniqueIndex" json:"handle"`
	DisplayName string            `gorm:"column:display_name;not null" json:"display_name"`
	Role        enums.ProfileRole `gorm:"type:profile_role;not null;default:user" json:"role"`
	AvatarURL   *string           `gorm:"column:avatar_url" json:"avatar_url"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p Profile) IsAdmin() bool {
	return p.Role == enums.ProfileRoleAdmin
}
