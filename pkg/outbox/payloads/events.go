package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// OpForEvent maps an outbox event type onto the change op it carries.
func OpForEvent(eventType enums.OutboxEventType) (Op, bool) {
	switch eventType {
	case enums.EventRowInserted:
		return OpInsert, true
	case enums.EventRowUpdated:
		return OpUpdate, true
	case enums.EventRowDeleted:
		return OpDelete, true
	default:
		return "", false
	}
}

// EventForOp is the inverse of OpForEvent.
func EventForOp(op Op) (enums.OutboxEventType, bool) {
	switch op {
	case OpInsert:
		return enums.EventRowInserted, true
	case OpUpdate:
		return enums.EventRowUpdated, true
	case OpDelete:
		return enums.EventRowDeleted, true
	default:
		return "", false
	}
}

// RowChange is the data section of every outbox envelope.
// Record holds the row after the change (before it, for deletes).
// ItemOwnerID is filled for claims so subscribers can evaluate the
// claim select predicate without another lookup.
type RowChange struct {
	Table       string          `json:"table"`
	Op          Op              `json:"op"`
	Record      json.RawMessage `json:"record"`
	ItemOwnerID *uuid.UUID      `json:"item_owner_id,omitempty"`
}

// ChangeMessage is what the publisher puts on the lf:changes:<table> channel.
type ChangeMessage struct {
	EventID     string          `json:"event_id"`
	Table       string          `json:"table"`
	Op          Op              `json:"op"`
	Record      json.RawMessage `json:"record"`
	ItemOwnerID *uuid.UUID      `json:"item_owner_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
