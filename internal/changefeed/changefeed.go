// Package changefeed turns row writes into outbox events. Every service
// records its changes with the transaction that performed them.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox/payloads"
)

// Change describes one row write.
type Change struct {
	Table       enums.OutboxAggregateType
	Op          payloads.Op
	ID          uuid.UUID
	Record      any
	ItemOwnerID *uuid.UUID
	Actor       *outbox.ActorRef
}

// Recorder is what services depend on.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, change Change) error
}

// Feed writes changes to the outbox.
type Feed struct {
	emitter outbox.Emitter
}

func New(emitter outbox.Emitter) (*Feed, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	return &Feed{emitter: emitter}, nil
}

func (f *Feed) Record(ctx context.Context, tx *gorm.DB, change Change) error {
	eventType, ok := payloads.EventForOp(change.Op)
	if !ok {
		return fmt.Errorf("unsupported change op %q", change.Op)
	}
	if !change.Table.IsValid() {
		return fmt.Errorf("unsupported change table %q", change.Table)
	}
	record, err := json.Marshal(change.Record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", change.Table, err)
	}
	return f.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: change.Table,
		AggregateID:   change.ID,
		Actor:         change.Actor,
		Data: payloads.RowChange{
			Table:       string(change.Table),
			Op:          change.Op,
			Record:      record,
			ItemOwnerID: change.ItemOwnerID,
		},
	})
}

// Discard drops every change. Used where no outbox is wired.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, *gorm.DB, Change) error { return nil }

// Inserted builds an insert change.
func Inserted(table enums.OutboxAggregateType, id uuid.UUID, record any) Change {
	return Change{Table: table, Op: payloads.OpInsert, ID: id, Record: record}
}

// Updated builds an update change.
func Updated(table enums.OutboxAggregateType, id uuid.UUID, record any) Change {
	return Change{Table: table, Op: payloads.OpUpdate, ID: id, Record: record}
}

// Deleted builds a delete change carrying the last known row.
func Deleted(table enums.OutboxAggregateType, id uuid.UUID, record any) Change {
	return Change{Table: table, Op: payloads.OpDelete, ID: id, Record: record}
}

// By attaches the acting account.
func (c Change) By(actorID uuid.UUID) Change {
	if actorID != uuid.Nil {
		c.Actor = &outbox.ActorRef{AccountID: actorID}
	}
	return c
}

// WithItemOwner attaches the owning account of the item a claim points at.
func (c Change) WithItemOwner(ownerID uuid.UUID) Change {
	c.ItemOwnerID = &ownerID
	return c
}
