package items

import (
	"context"
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
	"github.com/angelmondragon/lostfound-backend/pkg/pagination"
)

// Field limits, counted in characters. Request decoding uses the same values.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 5000
	MaxCategoryLen    = 60
	MaxLocationLen    = 200
	MaxTags           = 10
	MaxTagLen         = 32
)

const recentLimit = 6

type itemRepository interface {
	Create(ctx context.Context, tx *gorm.DB, item *models.Item) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Item, error)
	Update(ctx context.Context, tx *gorm.DB, item *models.Item) error
	DeleteCascade(tx *gorm.DB, id uuid.UUID) error
	List(ctx context.Context, q listQuery) ([]models.Item, error)
	FindVisibleByIDs(ctx context.Context, actor policy.Actor, ids []uuid.UUID) ([]models.Item, error)
	Stats(ctx context.Context, userID uuid.UUID) (*Stats, error)
}

type posterLoader interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// Searcher returns matching item ids in relevance order.
type Searcher interface {
	SearchIDs(ctx context.Context, text, kind, category string, limit int) ([]uuid.UUID, error)
}

// Service exposes item reads and writes.
type Service interface {
	Create(ctx context.Context, actor policy.Actor, input CreateInput) (*models.Item, error)
	Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*ItemWithPoster, error)
	List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error)
	Search(ctx context.Context, actor policy.Actor, params SearchParams) ([]ItemWithPoster, error)
	Recent(ctx context.Context, actor policy.Actor) ([]ItemWithPoster, error)
	Update(ctx context.Context, actor policy.Actor, id uuid.UUID, input UpdateInput) (*models.Item, error)
	SetStatus(ctx context.Context, actor policy.Actor, id uuid.UUID, status string) (*models.Item, error)
	Delete(ctx context.Context, actor policy.Actor, id uuid.UUID) error
	Stats(ctx context.Context, actor policy.Actor) (*Stats, error)
}

// ServiceParams bundles the item service dependencies. Searcher is optional.
type ServiceParams struct {
	Repo     itemRepository
	Posters  posterLoader
	Tx       db.TxRunner
	Feed     changefeed.Recorder
	Searcher Searcher
}

type service struct {
	repo     itemRepository
	posters  posterLoader
	tx       db.TxRunner
	feed     changefeed.Recorder
	searcher Searcher
}

// NewService wires the item service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "item repository required")
	}
	if params.Posters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "profile loader required")
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
		posters:  params.Posters,
		tx:       params.Tx,
		feed:     feed,
		searcher: params.Searcher,
	}, nil
}

func (s *service) Create(ctx context.Context, actor policy.Actor, input CreateInput) (*models.Item, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	kind, err := enums.ParseItemKind(strings.TrimSpace(input.Kind))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "kind must be lost or found")
	}
	title, err := validTitle(input.Title)
	if err != nil {
		return nil, err
	}
	if err := checkLengths(input.Description, input.Category, input.Location); err != nil {
		return nil, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	item := &models.Item{
		UserID:      actor.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		ImageURL:    trimmedOrNil(input.ImageURL),
		Category:    strings.TrimSpace(input.Category),
		Tags:        tags,
		Location:    strings.TrimSpace(input.Location),
		Status:      enums.ItemStatusActive,
		Kind:        kind,
	}
	if err := policy.Authorize(actor, policy.Items, policy.Insert, *item); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, item); err != nil {
			if db.IsCheckViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item value")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert item")
		}
		return s.record(ctx, tx, changefeed.Inserted(enums.AggregateItem, item.ID, item).By(actor.ID))
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*ItemWithPoster, error) {
	item, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, repo.NotFoundAs(err, "item")
	}
	if err := policy.Authorize(actor, policy.Items, policy.Select, *item); err != nil {
		return nil, err
	}
	withPosters, err := s.attachPosters(ctx, []models.Item{*item})
	if err != nil {
		return nil, err
	}
	return &withPosters[0], nil
}

func (s *service) List(ctx context.Context, actor policy.Actor, params ListParams) (*ListResult, error) {
	filters, err := parseFilters(params.Kind, params.Status, params.Category, params.Query)
	if err != nil {
		return nil, err
	}
	filters.OwnerID = params.OwnerID

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listQuery{Actor: actor, Filters: filters, Cursor: cursor, Limit: params.Limit})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list items")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(i models.Item) pagination.Cursor {
		return pagination.Cursor{CreatedAt: i.CreatedAt, ID: i.ID}
	})

	withPosters, err := s.attachPosters(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: withPosters, Cursor: next}, nil
}

// Search uses the search index when one is configured and falls back to the
// substring filter otherwise. Index hits are re-read through the visibility
// scope, so the index never widens what a caller can see.
func (s *service) Search(ctx context.Context, actor policy.Actor, params SearchParams) ([]ItemWithPoster, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "q is required")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	if s.searcher == nil {
		result, err := s.List(ctx, actor, ListParams{
			Limit:    limit,
			Kind:     params.Kind,
			Category: params.Category,
			Query:    query,
		})
		if err != nil {
			return nil, err
		}
		return result.Items, nil
	}

	if _, err := parseFilters(params.Kind, "", params.Category, query); err != nil {
		return nil, err
	}
	ids, err := s.searcher.SearchIDs(ctx, query, params.Kind, params.Category, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search items")
	}
	rows, err := s.repo.FindVisibleByIDs(ctx, actor, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load search hits")
	}

	byID := make(map[uuid.UUID]models.Item, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]models.Item, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return s.attachPosters(ctx, ordered)
}

func (s *service) Recent(ctx context.Context, actor policy.Actor) ([]ItemWithPoster, error) {
	result, err := s.List(ctx, actor, ListParams{Limit: recentLimit})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (s *service) Update(ctx context.Context, actor policy.Actor, id uuid.UUID, input UpdateInput) (*models.Item, error) {
	return s.update(ctx, actor, id, func(item *models.Item) error {
		if input.Kind != nil && enums.ItemKind(strings.TrimSpace(*input.Kind)) != item.Kind {
			return pkgerrors.New(pkgerrors.CodeValidation, "kind cannot be changed after creation").
				WithDetails(map[string]string{"kind": string(item.Kind)})
		}
		if input.Title != nil {
			title, err := validTitle(*input.Title)
			if err != nil {
				return err
			}
			item.Title = title
		}
		if input.Description != nil {
			if tooLong(*input.Description, MaxDescriptionLen) {
				return pkgerrors.New(pkgerrors.CodeValidation, "description is too long")
			}
			item.Description = strings.TrimSpace(*input.Description)
		}
		if input.ImageURL != nil {
			item.ImageURL = trimmedOrNil(input.ImageURL)
		}
		if input.Category != nil {
			if tooLong(*input.Category, MaxCategoryLen) {
				return pkgerrors.New(pkgerrors.CodeValidation, "category is too long")
			}
			item.Category = strings.TrimSpace(*input.Category)
		}
		if input.Location != nil {
			if tooLong(*input.Location, MaxLocationLen) {
				return pkgerrors.New(pkgerrors.CodeValidation, "location is too long")
			}
			item.Location = strings.TrimSpace(*input.Location)
		}
		if input.Tags != nil {
			tags, err := normalizeTags(input.Tags)
			if err != nil {
				return err
			}
			item.Tags = tags
		}
		if input.Status != nil {
			status, err := parseStatus(*input.Status)
			if err != nil {
				return err
			}
			item.Status = status
		}
		return nil
	})
}

func (s *service) SetStatus(ctx context.Context, actor policy.Actor, id uuid.UUID, raw string) (*models.Item, error) {
	status, err := parseStatus(raw)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, actor, id, func(item *models.Item) error {
		item.Status = status
		return nil
	})
}

// Delete removes an item with its claims and messages. Admin only.
func (s *service) Delete(ctx context.Context, actor policy.Actor, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return repo.NotFoundAs(err, "item")
		}
		if err := policy.Authorize(actor, policy.Items, policy.Delete, *item); err != nil {
			return err
		}
		if err := s.repo.DeleteCascade(tx, id); err != nil {
			return repo.NotFoundAs(err, "item")
		}
		return s.record(ctx, tx, changefeed.Deleted(enums.AggregateItem, item.ID, item).By(actor.ID))
	})
}

func (s *service) Stats(ctx context.Context, actor policy.Actor) (*Stats, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	stats, err := s.repo.Stats(ctx, actor.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stats")
	}
	return stats, nil
}

func (s *service) update(ctx context.Context, actor policy.Actor, id uuid.UUID, mutate func(*models.Item) error) (*models.Item, error) {
	var updated *models.Item
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return repo.NotFoundAs(err, "item")
		}
		if err := policy.Authorize(actor, policy.Items, policy.Update, *item); err != nil {
			return err
		}
		if err := mutate(item); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, item); err != nil {
			if db.IsCheckViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item value")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update item")
		}
		if err := s.record(ctx, tx, changefeed.Updated(enums.AggregateItem, item.ID, item).By(actor.ID)); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// attachPosters loads the distinct owners of rows in one query.
func (s *service) attachPosters(ctx context.Context, rows []models.Item) ([]ItemWithPoster, error) {
	out := make([]ItemWithPoster, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	seen := make(map[uuid.UUID]struct{}, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		ids = append(ids, row.UserID)
	}
	profiles, err := s.posters.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load posters")
	}
	for _, row := range rows {
		entry := ItemWithPoster{Item: row}
		if p, ok := profiles[row.UserID]; ok {
			entry.Poster = posterFrom(p)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, change changefeed.Change) error {
	if err := s.feed.Record(ctx, tx, change); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record item change")
	}
	return nil
}

func parseFilters(kind, status, category, query string) (Filters, error) {
	var f Filters
	if kind = strings.TrimSpace(kind); kind != "" {
		parsed, err := enums.ParseItemKind(kind)
		if err != nil {
			return f, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "kind must be lost or found")
		}
		f.Kind = &parsed
	}
	if status = strings.TrimSpace(status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return f, err
		}
		f.Status = &parsed
	}
	f.Category = strings.TrimSpace(category)
	f.Query = strings.TrimSpace(query)
	return f, nil
}

func parseStatus(raw string) (enums.ItemStatus, error) {
	status, err := enums.ParseItemStatus(strings.TrimSpace(raw))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "status must be active, claimed or archived")
	}
	return status, nil
}

func validTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" || tooLong(title, MaxTitleLen) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "title must be 1-200 characters")
	}
	return title, nil
}

func normalizeTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if tooLong(tag, MaxTagLen) {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "tag %q is too long", tag)
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d tags are allowed", MaxTags)
	}
	return out, nil
}

func checkLengths(description, category, location string) error {
	switch {
	case tooLong(description, MaxDescriptionLen):
		return pkgerrors.New(pkgerrors.CodeValidation, "description is too long")
	case tooLong(category, MaxCategoryLen):
		return pkgerrors.New(pkgerrors.CodeValidation, "category is too long")
	case tooLong(location, MaxLocationLen):
		return pkgerrors.New(pkgerrors.CodeValidation, "location is too long")
	}
	return nil
}

func tooLong(value string, limit int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(value)) > limit
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
