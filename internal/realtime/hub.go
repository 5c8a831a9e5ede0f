package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	"github.com/angelmondragon/lostfound-backend/pkg/metrics"
	"github.com/angelmondragon/lostfound-backend/pkg/outbox/payloads"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Delivery is one change routed to one subscription.
type Delivery struct {
	Ref        string
	EventID    string
	Table      string
	Op         payloads.Op
	Record     json.RawMessage
	OccurredAt string
}

// Sink receives deliveries. Deliver must not block; it reports false when the
// delivery was dropped.
type Sink interface {
	Deliver(Delivery) bool
}

// Subscription is a live (actor, table, filter) registration. Close releases
// it and may be called any number of times.
type Subscription struct {
	id     uint64
	Ref    string
	Table  string
	Filter *Filter
	actor  policy.Actor
	sink   Sink
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans row changes out to subscriptions.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	metrics *metrics.RealtimeMetrics
	logg    *logger.Logger
}

func NewHub(m *metrics.RealtimeMetrics, logg *logger.Logger) *Hub {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{
		subs:    map[uint64]*Subscription{},
		metrics: m,
		logg:    logg,
	}
}

// Subscribe registers sink for changes on table that match filter and that
// actor may see.
func (h *Hub) Subscribe(actor policy.Actor, table, ref string, filter *Filter, sink Sink) (*Subscription, error) {
	if actor.ID == uuid.Nil {
		return nil, errors.New("authenticated actor required")
	}
	if _, ok := subscribable[table]; !ok {
		return nil, fmt.Errorf("table %q does not accept subscriptions", table)
	}
	if sink == nil {
		return nil, errors.New("sink required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		Ref:    ref,
		Table:  table,
		Filter: filter,
		actor:  actor,
		sink:   sink,
		hub:    h,
	}
	h.subs[sub.id] = sub
	h.metrics.SubscriptionAdded(table)
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	h.metrics.SubscriptionRemoved(sub.Table)
}

// Active returns the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch routes one change to every matching subscription.
func (h *Hub) Dispatch(ctx context.Context, msg payloads.ChangeMessage) {
	ev, err := decodeEvent(msg)
	if err != nil {
		h.logg.Error(h.logg.WithField(ctx, "table", msg.Table), "realtime.decode_failed", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.Table == msg.Table {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	occurred := ""
	if !msg.OccurredAt.IsZero() {
		occurred = msg.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	for _, sub := range targets {
		if !sub.Filter.Matches(ev.fields) || !ev.visibleTo(sub.actor) {
			continue
		}
		delivered := sub.sink.Deliver(Delivery{
			Ref:        sub.Ref,
			EventID:    msg.EventID,
			Table:      msg.Table,
			Op:         msg.Op,
			Record:     msg.Record,
			OccurredAt: occurred,
		})
		if delivered {
			h.metrics.IncDelivered(msg.Table)
		} else {
			h.metrics.IncDropped(msg.Table)
		}
	}
}

// Run consumes pub/sub messages until ctx ends or the channel closes.
func (h *Hub) Run(ctx context.Context, messages <-chan *redis.Message) error {
	h.logg.Info(ctx, "realtime.hub_started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-messages:
			if !ok {
				return errors.New("realtime source closed")
			}
			var change payloads.ChangeMessage
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				h.logg.Error(h.logg.WithField(ctx, "channel", m.Channel), "realtime.bad_payload", err)
				continue
			}
			h.Dispatch(ctx, change)
		}
	}
}

// Close drops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
