package items

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Poster is the public slice of a profile shown next to an item.
type Poster struct {
	ID          uuid.UUID `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url"`
}

// ItemWithPoster is an item joined with its owner's profile.
type ItemWithPoster struct {
	models.Item
	Poster *Poster `json:"poster"`
}

// CreateInput carries a new item report.
type CreateInput struct {
	Title       string
	Description string
	ImageURL    *string
	Category    string
	Tags        []string
	Location    string
	Kind        string
}

// UpdateInput carries the optional fields of an item edit. Kind may be sent
// but must equal the stored kind.
type UpdateInput struct {
	Title       *string
	Description *string
	ImageURL    *string
	Category    *string
	Tags        []string
	Location    *string
	Kind        *string
	Status      *string
}

// ListParams configures an item listing.
type ListParams struct {
	Limit    int
	Cursor   string
	Kind     string
	Status   string
	Category string
	OwnerID  *uuid.UUID
	Query    string
}

// ListResult wraps a page of items.
type ListResult struct {
	Items  []ItemWithPoster `json:"items"`
	Cursor string           `json:"cursor"`
}

// SearchParams configures a full-text search.
type SearchParams struct {
	Query    string
	Kind     string
	Category string
	Limit    int
}

// Stats are the dashboard counters of one account.
type Stats struct {
	TotalItems            int64                      `json:"total_items"`
	ItemsByStatus         map[enums.ItemStatus]int64 `json:"items_by_status"`
	PendingClaimsReceived int64                      `json:"pending_claims_received"`
	ClaimsMade            int64                      `json:"claims_made"`
	UnreadMessages        int64                      `json:"unread_messages"`
	UnreadNotifications   int64                      `json:"unread_notifications"`
}

func posterFrom(p models.Profile) *Poster {
	return &Poster{
		ID:          p.ID,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	}
}
