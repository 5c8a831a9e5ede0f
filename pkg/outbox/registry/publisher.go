package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox/payloads"
)

// EventDescriptor links a table to its pub/sub channel and sinks.
type EventDescriptor struct {
	AggregateType enums.OutboxAggregateType
	Channel       string
	// Indexed tables are mirrored into the search index.
	Indexed bool
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Change     payloads.RowChange
}

// Message builds the pub/sub payload for the resolved change.
func (r ResolvedEvent) Message() payloads.ChangeMessage {
	return payloads.ChangeMessage{
		EventID:     r.Envelope.EventID,
		Table:       r.Change.Table,
		Op:          r.Change.Op,
		Record:      r.Change.Record,
		ItemOwnerID: r.Change.ItemOwnerID,
		OccurredAt:  r.Envelope.OccurredAt,
	}
}

// EventRegistry maps each published table to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxAggregateType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// ErrUnknownTable marks events for tables the registry does not publish.
var ErrUnknownTable = errors.New("unknown table")

// NewEventRegistry builds the registry; channelFor names the channel of a table.
func NewEventRegistry(channelFor func(table string) string) (*EventRegistry, error) {
	if channelFor == nil {
		return nil, fmt.Errorf("channel namer is required")
	}

	reg := &EventRegistry{entries: map[enums.OutboxAggregateType]EventDescriptor{}}
	for _, table := range []enums.OutboxAggregateType{
		enums.AggregateProfile,
		enums.AggregateItem,
		enums.AggregateClaim,
		enums.AggregateMessage,
		enums.AggregateNotification,
	} {
		reg.register(EventDescriptor{
			AggregateType: table,
			Channel:       channelFor(string(table)),
			Indexed:       table == enums.AggregateItem,
		})
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.Channel == "" {
		return
	}
	r.entries[desc.AggregateType] = desc
}

// Descriptor returns the descriptor registered for table.
func (r *EventRegistry) Descriptor(table enums.OutboxAggregateType) (EventDescriptor, bool) {
	desc, ok := r.entries[table]
	return desc, ok
}

// Resolve validates the row and decodes its row change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.AggregateType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%w %s", ErrUnknownTable, event.AggregateType))
	}
	op, ok := payloads.OpForEvent(event.EventType)
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	var change payloads.RowChange
	if err := json.Unmarshal(envelope.Data, &change); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if change.Table != string(event.AggregateType) {
		return nil, NewNonRetryableError(fmt.Errorf("table mismatch: expected %s got %s", event.AggregateType, change.Table))
	}
	if change.Op != op {
		return nil, NewNonRetryableError(fmt.Errorf("op mismatch: expected %s got %s", op, change.Op))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Change:     change,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
