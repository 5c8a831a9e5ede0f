package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRealtimeMetricsTrackSubscriptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRealtimeMetrics(reg)

	m.SubscriptionAdded("messages")
	m.SubscriptionAdded("messages")
	m.SubscriptionRemoved("messages")
	m.IncDropped("notifications")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assertCounter(t, mfs, "lostfound_realtime_subscriptions", "table", "messages", 1)
	assertCounter(t, mfs, "lostfound_realtime_events_dropped_total", "table", "notifications", 1)
}

func TestOutboxMetricsCountByTable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("items")
	m.IncPublished("items")
	m.IncDeadLettered("claims", "max_attempts")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assertCounter(t, mfs, "lostfound_outbox_published_total", "table", "items", 2)
	assertCounter(t, mfs, "lostfound_outbox_dead_lettered_total", "table", "claims", 1)
}
