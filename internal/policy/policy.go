// Package policy holds the row access rules for every table. Services call
// Authorize before writes and single-row reads, and apply the Visible scopes
// to list queries, so no query runs without its predicate next to it.
package policy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

// Actor is the authenticated caller a request runs as.
type Actor struct {
	ID    uuid.UUID
	Admin bool
	// System marks backend-internal work such as cron jobs.
	System bool
}

// System is the actor used by maintenance jobs.
var System = Actor{System: true, Admin: true}

func (a Actor) Authenticated() bool {
	return a.System || a.ID != uuid.Nil
}

type Table string

const (
	Profiles      Table = "profiles"
	Items         Table = "items"
	Claims        Table = "claims"
	Messages      Table = "messages"
	Notifications Table = "notifications"
)

type Op string

const (
	Select Op = "select"
	Insert Op = "insert"
	Update Op = "update"
	Delete Op = "delete"
)

// ClaimRow is a claim together with the owner of the item it targets.
type ClaimRow struct {
	Claim       models.Claim
	ItemOwnerID uuid.UUID
}

// Profile predicates.

func CanSelectProfile(Actor, models.Profile) bool { return true }

func CanInsertProfile(a Actor, p models.Profile) bool { return a.ID != uuid.Nil && a.ID == p.ID }

func CanUpdateProfile(a Actor, p models.Profile) bool { return a.ID != uuid.Nil && a.ID == p.ID }

func CanDeleteProfile(a Actor, _ models.Profile) bool { return a.Admin }

// Item predicates. Owners keep seeing their own items after they leave active.

func CanSelectItem(a Actor, item models.Item) bool {
	return item.Status == enums.ItemStatusActive || isOwner(a, item.UserID) || a.Admin
}

func CanInsertItem(a Actor, item models.Item) bool { return isOwner(a, item.UserID) }

func CanUpdateItem(a Actor, item models.Item) bool { return isOwner(a, item.UserID) || a.Admin }

func CanDeleteItem(a Actor, _ models.Item) bool { return a.Admin }

// Claim predicates.

func CanSelectClaim(a Actor, row ClaimRow) bool {
	return isOwner(a, row.ItemOwnerID) || isOwner(a, row.Claim.ClaimantID) || a.Admin
}

func CanInsertClaim(a Actor, row ClaimRow) bool { return isOwner(a, row.Claim.ClaimantID) }

func CanUpdateClaim(a Actor, row ClaimRow) bool { return isOwner(a, row.ItemOwnerID) || a.Admin }

func CanDeleteClaim(a Actor, _ ClaimRow) bool { return a.Admin }

// Message predicates. Nobody deletes messages; they go with their account.

func CanSelectMessage(a Actor, m models.Message) bool {
	return isOwner(a, m.SenderID) || isOwner(a, m.RecipientID)
}

func CanInsertMessage(a Actor, m models.Message) bool { return isOwner(a, m.SenderID) }

func CanUpdateMessage(a Actor, m models.Message) bool { return isOwner(a, m.RecipientID) }

func CanDeleteMessage(Actor, models.Message) bool { return false }

// Notification predicates. Inserts come from the backend on behalf of the
// triggering write, so they are always allowed.

func CanSelectNotification(a Actor, n models.Notification) bool { return isOwner(a, n.UserID) }

func CanInsertNotification(Actor, models.Notification) bool { return true }

func CanUpdateNotification(a Actor, n models.Notification) bool { return isOwner(a, n.UserID) }

func CanDeleteNotification(a Actor, _ models.Notification) bool { return a.System }

func isOwner(a Actor, id uuid.UUID) bool {
	return a.ID != uuid.Nil && a.ID == id
}

// Allowed evaluates the predicate for (table, op) against row. row must be the
// model type of the table, or ClaimRow for claims.
func Allowed(a Actor, table Table, op Op, row any) (bool, error) {
	switch table {
	case Profiles:
		p, ok := row.(models.Profile)
		if !ok {
			return false, rowTypeError(table, row)
		}
		return pick(op, CanSelectProfile, CanInsertProfile, CanUpdateProfile, CanDeleteProfile)(a, p), nil
	case Items:
		item, ok := row.(models.Item)
		if !ok {
			return false, rowTypeError(table, row)
		}
		return pick(op, CanSelectItem, CanInsertItem, CanUpdateItem, CanDeleteItem)(a, item), nil
	case Claims:
		c, ok := row.(ClaimRow)
		if !ok {
			return false, rowTypeError(table, row)
		}
		return pick(op, CanSelectClaim, CanInsertClaim, CanUpdateClaim, CanDeleteClaim)(a, c), nil
	case Messages:
		m, ok := row.(models.Message)
		if !ok {
			return false, rowTypeError(table, row)
		}
		return pick(op, CanSelectMessage, CanInsertMessage, CanUpdateMessage, CanDeleteMessage)(a, m), nil
	case Notifications:
		n, ok := row.(models.Notification)
		if !ok {
			return false, rowTypeError(table, row)
		}
		return pick(op, CanSelectNotification, CanInsertNotification, CanUpdateNotification, CanDeleteNotification)(a, n), nil
	default:
		return false, fmt.Errorf("no policy for table %q", table)
	}
}

func pick[T any](op Op, sel, ins, upd, del func(Actor, T) bool) func(Actor, T) bool {
	switch op {
	case Select:
		return sel
	case Insert:
		return ins
	case Update:
		return upd
	case Delete:
		return del
	default:
		return func(Actor, T) bool { return false }
	}
}

func rowTypeError(table Table, row any) error {
	return fmt.Errorf("policy for %s got row of type %T", table, row)
}

// Authorize returns nil when the actor may perform op on row. A denied select,
// or a write on a row the actor cannot see, reads as NOT_FOUND; a denied write
// on a visible row reads as FORBIDDEN.
func Authorize(a Actor, table Table, op Op, row any) error {
	ok, err := Allowed(a, table, op, row)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate policy")
	}
	if ok {
		return nil
	}
	if op == Select {
		return notFound(table)
	}
	if op != Insert {
		visible, _ := Allowed(a, table, Select, row)
		if !visible {
			return notFound(table)
		}
	}
	return pkgerrors.Newf(pkgerrors.CodeForbidden, "%s %s not permitted", op, singular(table))
}

func notFound(table Table) error {
	return pkgerrors.Newf(pkgerrors.CodeNotFound, "%s not found", singular(table))
}

func singular(table Table) string {
	return strings.TrimSuffix(string(table), "s")
}

// CanWriteObject reports whether the actor may upload to or delete path in a
// storage bucket: the path must start with "<id>/" or "<id>-".
func CanWriteObject(a Actor, path string) bool {
	if a.ID == uuid.Nil {
		return false
	}
	path = strings.TrimPrefix(path, "/")
	id := a.ID.String()
	return strings.HasPrefix(path, id+"/") || strings.HasPrefix(path, id+"-")
}
