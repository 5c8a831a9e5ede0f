package enums

import "fmt"

// ItemKind maps to the item_kind enum in Postgres. It is fixed at creation.
type ItemKind string

const (
	ItemKindLost  ItemKind = "lost"
	ItemKindFound ItemKind = "found"
)

var validItemKinds = []ItemKind{
	ItemKindLost,
	ItemKindFound,
}

func (k ItemKind) String() string {
	return string(k)
}

func (k ItemKind) IsValid() bool {
	for _, candidate := range validItemKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseItemKind converts raw input into an ItemKind.
func ParseItemKind(value string) (ItemKind, error) {
	for _, candidate := range validItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item kind %q", value)
}

// ItemStatus maps to the item_status enum in Postgres.
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusClaimed  ItemStatus = "claimed"
	ItemStatusArchived ItemStatus = "archived"
)

var validItemStatuses = []ItemStatus{
	ItemStatusActive,
	ItemStatusClaimed,
	ItemStatusArchived,
}

func (s ItemStatus) String() string {
	return string(s)
}

func (s ItemStatus) IsValid() bool {
	for _, candidate := range validItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseItemStatus converts raw input into an ItemStatus.
func ParseItemStatus(value string) (ItemStatus, error) {
	for _, candidate := range validItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item status %q", value)
}

// ItemStatuses returns the closed set of item statuses in display order.
func ItemStatuses() []ItemStatus {
	out := make([]ItemStatus, len(validItemStatuses))
	copy(out, validItemStatuses)
	return out
}
