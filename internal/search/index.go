package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"

	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

const primaryKey = "id"

var (
	filterableAttributes = []string{"kind", "category", "status", "user_id"}
	searchableAttributes = []string{"title", "description", "location", "tags", "category"}
	sortableAttributes   = []string{"created_at"}
)

// index is the slice of meilisearch.IndexManager this package calls.
type index interface {
	AddDocuments(documentsPtr interface{}, primaryKey *string) (*meilisearch.TaskInfo, error)
	DeleteDocument(identifier string) (*meilisearch.TaskInfo, error)
	SearchRaw(query string, request *meilisearch.SearchRequest) (*json.RawMessage, error)
	UpdateFilterableAttributes(request *[]interface{}) (*meilisearch.TaskInfo, error)
	UpdateSearchableAttributes(request *[]string) (*meilisearch.TaskInfo, error)
	UpdateSortableAttributes(request *[]string) (*meilisearch.TaskInfo, error)
}

// Document is the indexed form of an item.
type Document struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	UserID      string   `json:"user_id"`
	CreatedAt   int64    `json:"created_at"`
}

// Index keeps the Meilisearch items index in step with the items table and
// answers full-text queries with item ids.
type Index struct {
	idx       index
	sanitizer *bluemonday.Policy
	logg      *logger.Logger
}

// New connects to Meilisearch. It returns nil, nil when search is not
// configured so callers can fall back to substring filtering.
func New(cfg config.SearchConfig, logg *logger.Logger) (*Index, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := meilisearch.New(cfg.Host, meilisearch.WithAPIKey(cfg.Key))
	if !client.IsHealthy() {
		return nil, fmt.Errorf("meilisearch at %s is not healthy", cfg.Host)
	}
	return newIndex(client.Index(cfg.Index), logg), nil
}

func newIndex(idx index, logg *logger.Logger) *Index {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Index{idx: idx, sanitizer: bluemonday.StrictPolicy(), logg: logg}
}

// EnsureSettings applies the filterable, searchable and sortable attributes.
func (i *Index) EnsureSettings(ctx context.Context) error {
	filterable := make([]interface{}, len(filterableAttributes))
	for n, attr := range filterableAttributes {
		filterable[n] = attr
	}
	if _, err := i.idx.UpdateFilterableAttributes(&filterable); err != nil {
		return fmt.Errorf("update filterable attributes: %w", err)
	}
	searchable := append([]string(nil), searchableAttributes...)
	if _, err := i.idx.UpdateSearchableAttributes(&searchable); err != nil {
		return fmt.Errorf("update searchable attributes: %w", err)
	}
	sortable := append([]string(nil), sortableAttributes...)
	if _, err := i.idx.UpdateSortableAttributes(&sortable); err != nil {
		return fmt.Errorf("update sortable attributes: %w", err)
	}
	i.logg.Info(ctx, "search.settings_applied")
	return nil
}

// Upsert indexes items, replacing existing documents with the same id.
func (i *Index) Upsert(ctx context.Context, items ...models.Item) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		docs = append(docs, i.document(item))
	}
	pk := primaryKey
	task, err := i.idx.AddDocuments(docs, &pk)
	if err != nil {
		return fmt.Errorf("index %d items: %w", len(docs), err)
	}
	i.logg.Debug(i.logg.WithFields(ctx, map[string]any{"task_uid": task.TaskUID, "count": len(docs)}), "search.documents_enqueued")
	return nil
}

func (i *Index) Delete(ctx context.Context, id uuid.UUID) error {
	task, err := i.idx.DeleteDocument(id.String())
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	i.logg.Debug(i.logg.WithFields(ctx, map[string]any{"task_uid": task.TaskUID, "item_id": id.String()}), "search.document_delete_enqueued")
	return nil
}

type rawHits struct {
	Hits []struct {
		ID string `json:"id"`
	} `json:"hits"`
}

// SearchIDs returns ids of active items matching text in relevance order.
func (i *Index) SearchIDs(ctx context.Context, text, kind, category string, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 20
	}
	filters := []string{fmt.Sprintf("status = %s", quote(string(enums.ItemStatusActive)))}
	if kind = strings.TrimSpace(kind); kind != "" {
		filters = append(filters, fmt.Sprintf("kind = %s", quote(kind)))
	}
	if category = strings.TrimSpace(category); category != "" {
		filters = append(filters, fmt.Sprintf("category = %s", quote(category)))
	}

	raw, err := i.idx.SearchRaw(strings.TrimSpace(text), &meilisearch.SearchRequest{
		Limit:                int64(limit),
		Filter:               strings.Join(filters, " AND "),
		AttributesToRetrieve: []string{primaryKey},
	})
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	if raw == nil {
		return nil, errors.New("search items: empty response")
	}

	var decoded rawHits
	if err := json.Unmarshal(*raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(decoded.Hits))
	for _, hit := range decoded.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			i.logg.Warn(i.logg.WithField(ctx, "document_id", hit.ID), "search.bad_document_id")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (i *Index) document(item models.Item) Document {
	tags := make([]string, 0, len(item.Tags))
	for _, tag := range item.Tags {
		if clean := i.clean(tag); clean != "" {
			tags = append(tags, clean)
		}
	}
	return Document{
		ID:          item.ID.String(),
		Title:       i.clean(item.Title),
		Description: i.clean(item.Description),
		Location:    i.clean(item.Location),
		Category:    i.clean(item.Category),
		Tags:        tags,
		Kind:        string(item.Kind),
		Status:      string(item.Status),
		UserID:      item.UserID.String(),
		CreatedAt:   item.CreatedAt.Unix(),
	}
}

func (i *Index) clean(value string) string {
	value = strings.NewReplacer("</p>", " ", "<br>", " ", "<br/>", " ", "</div>", " ").Replace(value)
	value = html.UnescapeString(i.sanitizer.Sanitize(value))
	return strings.Join(strings.Fields(value), " ")
}

func quote(value string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
}
