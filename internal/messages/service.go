package messages

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/internal/changefeed"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/internal/repo"
	"github.com/angelmondragon/lostfound-backend/pkg/db"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

const (
	maxBodyLen     = 5000
	previewLen     = 140
	genericSubject = "New message"
)

type messageRepository interface {
	Create(ctx context.Context, tx *gorm.DB, message *models.Message) error
	FindVisible(ctx context.Context, tx *gorm.DB, actor policy.Actor, id uuid.UUID) (*models.Message, error)
	Involving(ctx context.Context, actor policy.Actor) ([]models.Message, error)
	Thread(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) ([]models.Message, error)
	HasContact(ctx context.Context, tx *gorm.DB, itemID, senderID, recipientID uuid.UUID) (bool, error)
	MarkRead(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	UnreadInThread(ctx context.Context, tx *gorm.DB, itemID, senderID, recipientID uuid.UUID) ([]models.Message, error)
	MarkIDsRead(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error)
}

type itemLoader interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Item, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error)
}

type profileLoader interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Profile, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

type notifier interface {
	Create(ctx context.Context, tx *gorm.DB, notification *models.Notification) error
}

// Service exposes messaging between item owners and other accounts.
type Service interface {
	Send(ctx context.Context, actor policy.Actor, input SendInput) (*models.Message, error)
	Conversations(ctx context.Context, actor policy.Actor) ([]Conversation, error)
	Thread(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) (*Conversation, error)
	MarkRead(ctx context.Context, actor policy.Actor, id uuid.UUID) (*models.Message, error)
	MarkConversationRead(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) (int64, error)
}

type ServiceParams struct {
	Repo     messageRepository
	Items    itemLoader
	Profiles profileLoader
	Notifier notifier
	Tx       db.TxRunner
	Feed     changefeed.Recorder
}

type service struct {
	repo     messageRepository
	items    itemLoader
	profiles profileLoader
	notifier notifier
	tx       db.TxRunner
	feed     changefeed.Recorder
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil || params.Items == nil || params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "message, item and profile repositories required")
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
		profiles: params.Profiles,
		notifier: params.Notifier,
		tx:       params.Tx,
		feed:     feed,
	}, nil
}

// Send stores the message and the recipient's notification in one
// transaction. The sender may write about an item they can see, or about one
// they already share a thread or claim on with the recipient.
func (s *service) Send(ctx context.Context, actor policy.Actor, input SendInput) (*models.Message, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "body is required")
	}
	if utf8.RuneCountInString(body) > maxBodyLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "body must be at most 5000 characters")
	}
	if input.RecipientID == uuid.Nil || input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient_id and item_id are required")
	}
	if input.RecipientID == actor.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you cannot message yourself")
	}

	var sent *models.Message
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.profiles.FindByID(ctx, tx, input.RecipientID); err != nil {
			return repo.NotFoundAs(err, "recipient")
		}
		item, err := s.items.FindByID(ctx, tx, input.ItemID)
		if err != nil {
			return repo.NotFoundAs(err, "item")
		}
		if err := policy.Authorize(actor, policy.Items, policy.Select, *item); err != nil {
			contact, contactErr := s.repo.HasContact(ctx, tx, item.ID, actor.ID, input.RecipientID)
			if contactErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, contactErr, "check prior contact")
			}
			if !contact {
				return err
			}
		}
		if item.UserID != actor.ID && item.UserID != input.RecipientID {
			return pkgerrors.New(pkgerrors.CodeValidation, "messages must involve the item owner")
		}

		message := &models.Message{
			SenderID:    actor.ID,
			RecipientID: input.RecipientID,
			ItemID:      item.ID,
			Body:        body,
		}
		if err := policy.Authorize(actor, policy.Messages, policy.Insert, *message); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, tx, message); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert message")
		}
		if err := s.notifier.Create(ctx, tx, messageNotification(message, item)); err != nil {
			return err
		}
		if err := s.record(ctx, tx, changefeed.Inserted(enums.AggregateMessage, message.ID, message).By(actor.ID)); err != nil {
			return err
		}
		sent = message
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

func (s *service) Conversations(ctx context.Context, actor policy.Actor) ([]Conversation, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	rows, err := s.repo.Involving(ctx, actor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list messages")
	}
	conversations := groupConversations(actor.ID, rows)
	if err := s.hydrate(ctx, actor, conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (s *service) Thread(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) (*Conversation, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	rows, err := s.repo.Thread(ctx, actor, itemID, otherID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load thread")
	}
	conversations := groupConversations(actor.ID, rows)
	if len(conversations) == 0 {
		conversations = []Conversation{{ItemID: itemID, OtherPartyID: otherID, Messages: []models.Message{}}}
	}
	if err := s.hydrate(ctx, actor, conversations); err != nil {
		return nil, err
	}
	return &conversations[0], nil
}

// MarkRead flags a message read. Only its recipient may do so.
func (s *service) MarkRead(ctx context.Context, actor policy.Actor, id uuid.UUID) (*models.Message, error) {
	var updated *models.Message
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		message, err := s.repo.FindVisible(ctx, tx, actor, id)
		if err != nil {
			return repo.NotFoundAs(err, "message")
		}
		if err := policy.Authorize(actor, policy.Messages, policy.Update, *message); err != nil {
			return err
		}
		changed, err := s.repo.MarkRead(ctx, tx, message.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark message read")
		}
		message.Read = true
		if changed {
			if err := s.record(ctx, tx, changefeed.Updated(enums.AggregateMessage, message.ID, message).By(actor.ID)); err != nil {
				return err
			}
		}
		updated = message
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkConversationRead flags every unread message other sent the actor about
// item.
func (s *service) MarkConversationRead(ctx context.Context, actor policy.Actor, itemID, otherID uuid.UUID) (int64, error) {
	if actor.ID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	var marked int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		unread, err := s.repo.UnreadInThread(ctx, tx, itemID, otherID, actor.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unread messages")
		}
		ids := make([]uuid.UUID, 0, len(unread))
		for _, message := range unread {
			ids = append(ids, message.ID)
		}
		marked, err = s.repo.MarkIDsRead(ctx, tx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark conversation read")
		}
		for i := range unread {
			unread[i].Read = true
			if err := s.record(ctx, tx, changefeed.Updated(enums.AggregateMessage, unread[i].ID, unread[i]).By(actor.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// hydrate attaches item summaries and the other party's profile. Items the
// actor can no longer see are left nil.
func (s *service) hydrate(ctx context.Context, actor policy.Actor, conversations []Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	itemIDs := make([]uuid.UUID, 0, len(conversations))
	profileIDs := make([]uuid.UUID, 0, len(conversations))
	seenItems := map[uuid.UUID]struct{}{}
	seenProfiles := map[uuid.UUID]struct{}{}
	for _, c := range conversations {
		if _, ok := seenItems[c.ItemID]; !ok {
			seenItems[c.ItemID] = struct{}{}
			itemIDs = append(itemIDs, c.ItemID)
		}
		if _, ok := seenProfiles[c.OtherPartyID]; !ok {
			seenProfiles[c.OtherPartyID] = struct{}{}
			profileIDs = append(profileIDs, c.OtherPartyID)
		}
	}

	itemsByID, err := s.items.FindByIDs(ctx, itemIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversation items")
	}
	profilesByID, err := s.profiles.FindByIDs(ctx, profileIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversation profiles")
	}
	for i := range conversations {
		if item, ok := itemsByID[conversations[i].ItemID]; ok {
			if allowed, _ := policy.Allowed(actor, policy.Items, policy.Select, item); allowed {
				conversations[i].Item = summarize(item)
			}
		}
		if profile, ok := profilesByID[conversations[i].OtherPartyID]; ok {
			conversations[i].OtherParty = posterFrom(profile)
		}
	}
	return nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, change changefeed.Change) error {
	if err := s.feed.Record(ctx, tx, change); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record message change")
	}
	return nil
}

// groupConversations buckets rows (oldest first) by item and other party.
// Buckets come back newest activity first.
func groupConversations(actorID uuid.UUID, rows []models.Message) []Conversation {
	index := map[conversationKey]int{}
	var out []Conversation
	for _, message := range rows {
		other := message.SenderID
		if other == actorID {
			other = message.RecipientID
		}
		key := conversationKey{itemID: message.ItemID, otherID: other}
		pos, ok := index[key]
		if !ok {
			pos = len(out)
			index[key] = pos
			out = append(out, Conversation{ItemID: message.ItemID, OtherPartyID: other})
		}
		c := &out[pos]
		c.Messages = append(c.Messages, message)
		if message.CreatedAt.After(c.LastMessageAt) {
			c.LastMessageAt = message.CreatedAt
		}
		if message.RecipientID == actorID && !message.Read {
			c.UnreadCount++
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

func messageNotification(message *models.Message, item *models.Item) *models.Notification {
	n := &models.Notification{
		UserID: message.RecipientID,
		Type:   enums.NotificationTypeMessage,
		Title:  genericSubject,
		Body:   "You have a new message.",
	}
	if item != nil && strings.TrimSpace(item.Title) != "" {
		n.Title = fmt.Sprintf("New message about %q", item.Title)
		n.Body = preview(message.Body)
	}
	return n
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLen {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewLen]) + "..."
}
