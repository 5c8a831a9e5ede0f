// Package dbtest opens in-memory SQLite databases carrying a SQLite rendition
// of the Postgres schema: same tables, foreign keys with cascades, the
// one-claim-per-claimant unique key, CHECK constraints standing in for the
// enum types, and the trigger that pins items.kind.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

var counter atomic.Int64

var schema = []string{
	`CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		handle TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user','admin')),
		avatar_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		image_url TEXT,
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '{}',
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','claimed','archived')),
		kind TEXT NOT NULL CHECK (kind IN ('lost','found')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX items_user_id_idx ON items(user_id)`,
	`CREATE INDEX items_status_kind_created_idx ON items(status, kind, created_at)`,
	`CREATE TRIGGER items_kind_immutable BEFORE UPDATE OF kind ON items
		WHEN NEW.kind <> OLD.kind
		BEGIN SELECT RAISE(ABORT, 'CHECK constraint failed: items.kind is immutable'); END`,
	`CREATE TABLE claims (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		claimant_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
		decided_at DATETIME,
		decided_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CONSTRAINT claims_item_claimant_key UNIQUE (item_id, claimant_id)
	)`,
	`CREATE INDEX claims_claimant_id_idx ON claims(claimant_id)`,
	`CREATE TABLE messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		recipient_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		body TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX notifications_user_created_idx ON notifications(user_id, created_at)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL CHECK (event_type IN ('row_inserted','row_updated','row_deleted')),
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database with the schema applied. The pool is pinned to
// one connection, so code under test must issue in-transaction queries on the
// transaction handle.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=on", name, counter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true, NowFunc: db.NowUTC})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error, stmt)
	}
	return conn
}

// OpenClient wraps Open in a *db.Client.
func OpenClient(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromGorm(conn), conn
}

// SeedUser inserts an account and its profile.
func SeedUser(t *testing.T, conn *gorm.DB, handle string, role enums.ProfileRole) models.Profile {
	t.Helper()
	account := models.Account{
		Email:        handle + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, conn.Create(&account).Error)
	profile := models.Profile{
		ID:          account.ID,
		Handle:      handle,
		DisplayName: handle,
		Role:        role,
	}
	require.NoError(t, conn.Create(&profile).Error)
	return profile
}

// SeedItem inserts an item owned by ownerID.
func SeedItem(t *testing.T, conn *gorm.DB, ownerID uuid.UUID, title string, kind enums.ItemKind, status enums.ItemStatus) models.Item {
	t.Helper()
	item := models.Item{
		UserID: ownerID,
		Title:  title,
		Kind:   kind,
		Status: status,
	}
	require.NoError(t, conn.Create(&item).Error)
	return item
}

// SeedMessage inserts a message row directly, without its notification.
func SeedMessage(t *testing.T, conn *gorm.DB, from, to, itemID uuid.UUID, body string, at time.Time) models.Message {
	t.Helper()
	msg := models.Message{
		SenderID:    from,
		RecipientID: to,
		ItemID:      itemID,
		Body:        body,
		CreatedAt:   at,
	}
	require.NoError(t, conn.Create(&msg).Error)
	return msg
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t *testing.T, conn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	q := conn.WithContext(context.Background()).Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&count).Error)
	return count
}
