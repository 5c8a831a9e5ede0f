package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	svc := NewService(NewRepository(conn), nil)
	actor := uuid.New()
	id := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventRowInserted,
			AggregateType: enums.AggregateItem,
			AggregateID:   id,
			Actor:         &ActorRef{AccountID: actor},
			Data:          map[string]string{"table": "items"},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, id, row.AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, CurrentVersion, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor, envelope.Actor.AccountID)
	assert.JSONEq(t, `{"table":"items"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	svc := NewService(NewRepository(conn), nil)

	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventRowUpdated,
			AggregateType: enums.AggregateItem,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, dbtest.Count(t, conn, "outbox_events", ""))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventRowInserted})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	repo := NewRepository(conn)

	first := models.OutboxEvent{EventType: enums.EventRowInserted, AggregateType: enums.AggregateItem, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventRowUpdated, AggregateType: enums.AggregateItem, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, conn.Create(&first).Error)
	require.NoError(t, conn.Create(&second).Error)

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.NoError(t, repo.MarkPublishedTx(tx, first.ID))
		require.NoError(t, repo.MarkFailedTx(tx, second.ID, errors.New("redis down")))
		return nil
	}))

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", second.ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "redis down", *failed.LastError)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, repo.MarkTerminalTx(tx, second.ID, errors.New("gave up"), 3))
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}

func TestDeletePublishedBefore(t *testing.T) {
	_, conn := dbtest.OpenClient(t)
	repo := NewRepository(conn)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	for _, publishedAt := range []*time.Time{&old, &recent, nil} {
		row := models.OutboxEvent{EventType: enums.EventRowInserted, AggregateType: enums.AggregateItem, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: publishedAt}
		require.NoError(t, conn.Create(&row).Error)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.EqualValues(t, 2, dbtest.Count(t, conn, "outbox_events", ""))
}

func TestDLQRepositoryTruncatesMessage(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	dlq := NewDLQRepository(conn)
	long := string(make([]byte, 4096))
	eventID := uuid.New()

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventRowInserted,
			AggregateType: enums.AggregateItem,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &long,
		})
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	count, err := dlq.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
