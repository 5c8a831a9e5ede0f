package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox/payloads"
)

// Tables that accept subscriptions, keyed by the channel table name.
var subscribable = map[string]policy.Table{
	"profiles":      policy.Profiles,
	"items":         policy.Items,
	"claims":        policy.Claims,
	"messages":      policy.Messages,
	"notifications": policy.Notifications,
}

// event is a change decoded once and evaluated per subscriber.
type event struct {
	msg    payloads.ChangeMessage
	table  policy.Table
	row    any
	fields map[string]json.RawMessage
}

func decodeEvent(msg payloads.ChangeMessage) (*event, error) {
	table, ok := subscribable[msg.Table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", msg.Table)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(msg.Record, &fields); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", msg.Table, err)
	}
	row, err := decodeRow(table, msg)
	if err != nil {
		return nil, err
	}
	return &event{msg: msg, table: table, row: row, fields: fields}, nil
}

func decodeRow(table policy.Table, msg payloads.ChangeMessage) (any, error) {
	var (
		row any
		err error
	)
	switch table {
	case policy.Profiles:
		var p models.Profile
		err = json.Unmarshal(msg.Record, &p)
		row = p
	case policy.Items:
		var item models.Item
		err = json.Unmarshal(msg.Record, &item)
		row = item
	case policy.Claims:
		var c models.Claim
		err = json.Unmarshal(msg.Record, &c)
		cr := policy.ClaimRow{Claim: c}
		if msg.ItemOwnerID != nil {
			cr.ItemOwnerID = *msg.ItemOwnerID
		}
		row = cr
	case policy.Messages:
		var m models.Message
		err = json.Unmarshal(msg.Record, &m)
		row = m
	case policy.Notifications:
		var n models.Notification
		err = json.Unmarshal(msg.Record, &n)
		row = n
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, err)
	}
	return row, nil
}

// visibleTo applies the table's select predicate.
func (e *event) visibleTo(actor policy.Actor) bool {
	ok, err := policy.Allowed(actor, e.table, policy.Select, e.row)
	return err == nil && ok
}
