package messages

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
)

// SendInput carries a new message.
type SendInput struct {
	RecipientID uuid.UUID
	ItemID      uuid.UUID
	Body        string
}

// ItemSummary is the slice of an item shown in a conversation header.
type ItemSummary struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	ImageURL *string   `json:"image_url"`
	Status   string    `json:"status"`
	Kind     string    `json:"kind"`
	OwnerID  uuid.UUID `json:"owner_id"`
}

// Conversation is every message between the caller and one other account
// about one item.
type Conversation struct {
	ItemID        uuid.UUID        `json:"item_id"`
	OtherPartyID  uuid.UUID        `json:"other_party_id"`
	Item          *ItemSummary     `json:"item"`
	OtherParty    *items.Poster    `json:"other_party"`
	Messages      []models.Message `json:"messages"`
	LastMessageAt time.Time        `json:"last_message_at"`
	UnreadCount   int              `json:"unread_count"`
}

type conversationKey struct {
	itemID  uuid.UUID
	otherID uuid.UUID
}

func summarize(item models.Item) *ItemSummary {
	return &ItemSummary{
		ID:       item.ID,
		Title:    item.Title,
		ImageURL: item.ImageURL,
		Status:   string(item.Status),
		Kind:     string(item.Kind),
		OwnerID:  item.UserID,
	}
}

func posterFrom(profile models.Profile) *items.Poster {
	return &items.Poster{
		ID:          profile.ID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}
}
