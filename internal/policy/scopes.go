package policy

import (
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// ItemsVisibleTo restricts a query on items to rows the actor may select.
func ItemsVisibleTo(a Actor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if a.Admin {
			return q
		}
		return q.Where("(items.status = ? OR items.user_id = ?)", enums.ItemStatusActive, a.ID)
	}
}

// ClaimsVisibleTo keeps claims the actor made or received.
func ClaimsVisibleTo(a Actor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if a.Admin {
			return q
		}
		return q.Where("(claims.claimant_id = ? OR claims.item_id IN (SELECT id FROM items WHERE items.user_id = ?))", a.ID, a.ID)
	}
}

// MessagesVisibleTo keeps messages the actor sent or received. Admins get no
// exemption here.
func MessagesVisibleTo(a Actor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("(messages.sender_id = ? OR messages.recipient_id = ?)", a.ID, a.ID)
	}
}

func NotificationsVisibleTo(a Actor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if a.System {
			return q
		}
		return q.Where("notifications.user_id = ?", a.ID)
	}
}
