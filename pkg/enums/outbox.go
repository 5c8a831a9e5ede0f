package enums

import "fmt"

// OutboxAggregateType names the table a change event belongs to.
type OutboxAggregateType string

const (
	AggregateProfile      OutboxAggregateType = "profiles"
	AggregateItem         OutboxAggregateType = "items"
	AggregateClaim        OutboxAggregateType = "claims"
	AggregateMessage      OutboxAggregateType = "messages"
	AggregateNotification OutboxAggregateType = "notifications"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProfile,
	AggregateItem,
	AggregateClaim,
	AggregateMessage,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventRowInserted OutboxEventType = "row_inserted"
	EventRowUpdated  OutboxEventType = "row_updated"
	EventRowDeleted  OutboxEventType = "row_deleted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventRowInserted,
	EventRowUpdated,
	EventRowDeleted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
