package claims

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

const maxMessageLen = 2000

type claimRepository interface {
	Create(ctx context.Context, tx *gorm.DB, claim *models.Claim) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Claim, error)
	Exists(ctx context.Context, tx *gorm.DB, itemID, claimantID uuid.UUID) (bool, error)
	Decide(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.ClaimStatus, decidedBy uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, q listQuery) ([]models.Claim, error)
}

type itemStore interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Item, error)
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to enums.ItemStatus) (bool, error)
}

type notifier interface {
	Create(ctx context.Context, tx *gorm.DB, notification *models.Notification) error
}

// Decision is the owner's verdict on a claim.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func (d Decision) status() (enums.ClaimStatus, bool) {
	switch d {
	case Approve:
		return enums.ClaimStatusApproved, true
	case Reject:
		return enums.ClaimStatusRejected, true
	default:
		return "", false
	}
}

// Service exposes claim operations.
type Service interface {
	Create(ctx context.Context, actor policy.Actor, itemID uuid.UUID, message string) (*models.Claim, error)
	ListForItem(ctx context.Context, actor policy.Actor, itemID uuid.UUID, params ListParams) (*ListResult, error)
	ListMine(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error)
	ListAll(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error)
	Decide(ctx context.Context, actor policy.Actor, claimID uuid.UUID, decision Decision) (*models.Claim, error)
}

// ListParams configures a claim listing. Role is "made" or "received" for
// ListMine and ignored elsewhere.
type ListParams struct {
	Limit  int
	Cursor string
	Status string
	Role   string
}

// ListResult wraps a page of claims.
type ListResult struct {
	Items  []models.Claim `json:"items"`
	Cursor string         `json:"cursor"`
}

// ServiceParams bundles the claim service dependencies.
type ServiceParams struct {
	Repo     claimRepository
	Items    itemStore
	Notifier notifier
	Tx       db.TxRunner
	Feed     changefeed.Recorder
}

type service struct {
	repo     claimRepository
	items    itemStore
	notifier notifier
	tx       db.TxRunner
	feed     changefeed.Recorder
	now      func() time.Time
}

// NewService wires the claim service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil || params.Items == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "claim and item repositories required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	feed := params.Feed
	if feed == nil {
		feed = changefeed.Discard
	}
	return &service{
		repo:     params.Repo,
		items:    params.Items,
		notifier: params.Notifier,
		tx:       params.Tx,
		feed:     feed,
		now:      db.NowUTC,
	}, nil
}

// Create files a claim and notifies the item owner in the same transaction.
// The unique (item_id, claimant_id) key backs the duplicate check.
func (s *service) Create(ctx context.Context, actor policy.Actor, itemID uuid.UUID, message string) (*models.Claim, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > maxMessageLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message must be at most 2000 characters")
	}

	var created *models.Claim
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.items.FindByID(ctx, tx, itemID)
		if err != nil {
			return repo.NotFoundAs(err, "item")
		}
		if err := policy.Authorize(actor, policy.Items, policy.Select, *item); err != nil {
			return err
		}
		if item.UserID == actor.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "you cannot claim your own item")
		}
		if item.Status != enums.ItemStatusActive {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "item is %s and no longer accepts claims", item.Status)
		}

		claim := &models.Claim{
			ItemID:     item.ID,
			ClaimantID: actor.ID,
			Message:    message,
			Status:     enums.ClaimStatusPending,
		}
		if err := policy.Authorize(actor, policy.Claims, policy.Insert, policy.ClaimRow{Claim: *claim, ItemOwnerID: item.UserID}); err != nil {
			return err
		}

		exists, err := s.repo.Exists(ctx, tx, item.ID, actor.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing claim")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, "you already claimed this item")
		}
		if err := s.repo.Create(ctx, tx, claim); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "you already claimed this item")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert claim")
		}

		body := "Someone believes this item is theirs."
		if claim.Message != "" {
			body = claim.Message
		}
		if err := s.notifier.Create(ctx, tx, &models.Notification{
			UserID: item.UserID,
			Type:   enums.NotificationTypeClaim,
			Title:  fmt.Sprintf("New claim on %q", item.Title),
			Body:   body,
		}); err != nil {
			return err
		}

		if err := s.record(ctx, tx, changefeed.Inserted(enums.AggregateClaim, claim.ID, claim).WithItemOwner(item.UserID).By(actor.ID)); err != nil {
			return err
		}
		created = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) ListForItem(ctx context.Context, actor policy.Actor, itemID uuid.UUID, params ListParams) (*ListResult, error) {
	item, err := s.items.FindByID(ctx, nil, itemID)
	if err != nil {
		return nil, repo.NotFoundAs(err, "item")
	}
	if err := policy.Authorize(actor, policy.Items, policy.Select, *item); err != nil {
		return nil, err
	}
	return s.list(ctx, listQuery{Actor: actor, ItemID: &item.ID}, params)
}

func (s *service) ListMine(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	// admins see every claim through the scope, so pin the listing to the caller
	q := listQuery{Actor: actor}
	switch strings.TrimSpace(params.Role) {
	case "", "made":
		q.ClaimantID = &actor.ID
	case "received":
		q.ItemOwnerID = &actor.ID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be made or received")
	}
	return s.list(ctx, q, params)
}

func (s *service) ListAll(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error) {
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.list(ctx, listQuery{Actor: actor}, params)
}

// Decide approves or rejects a pending claim. Approval marks the item claimed
// in the same transaction; if the item is no longer active the approval fails
// with STATE_CONFLICT and nothing changes. The claimant is notified either way.
func (s *service) Decide(ctx context.Context, actor policy.Actor, claimID uuid.UUID, decision Decision) (*models.Claim, error) {
	status, ok := decision.status()
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown decision %q", decision)
	}

	var decided *models.Claim
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		claim, err := s.repo.FindByID(ctx, tx, claimID)
		if err != nil {
			return repo.NotFoundAs(err, "claim")
		}
		item, err := s.items.FindByID(ctx, tx, claim.ItemID)
		if err != nil {
			return repo.NotFoundAs(err, "item")
		}
		row := policy.ClaimRow{Claim: *claim, ItemOwnerID: item.UserID}
		if err := policy.Authorize(actor, policy.Claims, policy.Update, row); err != nil {
			return err
		}
		if claim.Status != enums.ClaimStatusPending {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "claim was already %s", claim.Status)
		}

		now := s.now()
		changed, err := s.repo.Decide(ctx, tx, claim.ID, status, actor.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update claim")
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "claim was decided concurrently")
		}
		claim.Status = status
		claim.DecidedAt = &now
		decidedBy := actor.ID
		claim.DecidedBy = &decidedBy
		claim.UpdatedAt = now

		if status == enums.ClaimStatusApproved {
			moved, err := s.items.TransitionStatus(ctx, tx, item.ID, enums.ItemStatusActive, enums.ItemStatusClaimed)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark item claimed")
			}
			if !moved {
				return pkgerrors.Newf(pkgerrors.CodeStateConflict, "item is %s and cannot be claimed", item.Status)
			}
			item.Status = enums.ItemStatusClaimed
			if err := s.record(ctx, tx, changefeed.Updated(enums.AggregateItem, item.ID, item).By(actor.ID)); err != nil {
				return err
			}
		}

		if err := s.notifier.Create(ctx, tx, decisionNotification(claim, item)); err != nil {
			return err
		}
		if err := s.record(ctx, tx, changefeed.Updated(enums.AggregateClaim, claim.ID, claim).WithItemOwner(item.UserID).By(actor.ID)); err != nil {
			return err
		}
		decided = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

func (s *service) list(ctx context.Context, q listQuery, params ListParams) (*ListResult, error) {
	if status := strings.TrimSpace(params.Status); status != "" {
		parsed, err := enums.ParseClaimStatus(status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "status must be pending, approved or rejected")
		}
		q.Status = &parsed
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q.Cursor = cursor
	q.Limit = params.Limit

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list claims")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(c models.Claim) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	if rows == nil {
		rows = []models.Claim{}
	}
	return &ListResult{Items: rows, Cursor: next}, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, change changefeed.Change) error {
	if err := s.feed.Record(ctx, tx, change); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("record %s change", change.Table))
	}
	return nil
}

func decisionNotification(claim *models.Claim, item *models.Item) *models.Notification {
	title := fmt.Sprintf("Your claim on %q was rejected", item.Title)
	body := "The owner did not accept your claim."
	if claim.Status == enums.ClaimStatusApproved {
		title = fmt.Sprintf("Your claim on %q was approved", item.Title)
		body = "The owner accepted your claim. Send them a message to arrange the handover."
	}
	return &models.Notification{
		UserID: claim.ClaimantID,
		Type:   enums.NotificationTypeClaimDecision,
		Title:  title,
		Body:   body,
	}
}
