package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/lostfound-backend/api/responses"
	"github.com/angelmondragon/lostfound-backend/api/validators"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

const maxQueryLen = 200

type createItemRequest struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	ImageURL    *string  `json:"image_url,omitempty" validate:"omitempty,url"`
	Category    string   `json:"category" validate:"required,max=60"`
	Tags        []string `json:"tags,omitempty" validate:"max=10,dive,max=32"`
	Location    string   `json:"location" validate:"required,max=200"`
	Kind        string   `json:"kind" validate:"required,oneof=lost found"`
}

type updateItemRequest struct {
	Title       *string  `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=5000"`
	ImageURL    *string  `json:"image_url,omitempty" validate:"omitempty,url"`
	Category    *string  `json:"category,omitempty" validate:"omitempty,max=60"`
	Tags        []string `json:"tags,omitempty" validate:"max=10,dive,max=32"`
	Location    *string  `json:"location,omitempty" validate:"omitempty,max=200"`
	Kind        *string  `json:"kind,omitempty"`
	Status      *string  `json:"status,omitempty"`
}

type itemStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func sanitizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if cleaned := validators.SanitizeText(tag, 0); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// ListItems lists items visible to the caller. Without a status filter only
// active items are returned.
func ListItems(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := validators.ParseQueryUUID(r, "owner")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), actor, items.ListParams{
			Limit:    limit,
			Cursor:   strings.TrimSpace(r.URL.Query().Get("cursor")),
			Kind:     validators.QueryString(r, "kind", 20),
			Status:   validators.QueryString(r, "status", 20),
			Category: validators.QueryString(r, "category", items.MaxCategoryLen),
			OwnerID:  owner,
			Query:    validators.QueryString(r, "q", maxQueryLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, result.Items, result.Cursor)
	}
}

func SearchItems(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hits, err := svc.Search(r.Context(), actor, items.SearchParams{
			Query:    validators.QueryString(r, "q", maxQueryLen),
			Kind:     validators.QueryString(r, "kind", 20),
			Category: validators.QueryString(r, "category", items.MaxCategoryLen),
			Limit:    limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, hits)
	}
}

func CreateItem(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Create(r.Context(), actor, items.CreateInput{
			Title:       validators.SanitizeText(body.Title, 0),
			Description: validators.SanitizeText(body.Description, 0),
			ImageURL:    body.ImageURL,
			Category:    validators.SanitizeText(body.Category, 0),
			Tags:        sanitizeTags(body.Tags),
			Location:    validators.SanitizeText(body.Location, 0),
			Kind:        body.Kind,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, item)
	}
}

func GetItem(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

func UpdateItem(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Update(r.Context(), actor, id, items.UpdateInput{
			Title:       validators.SanitizeOptional(body.Title, 0),
			Description: validators.SanitizeOptional(body.Description, 0),
			ImageURL:    body.ImageURL,
			Category:    validators.SanitizeOptional(body.Category, 0),
			Tags:        sanitizeTags(body.Tags),
			Location:    validators.SanitizeOptional(body.Location, 0),
			Kind:        body.Kind,
			Status:      body.Status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

// SetItemStatus serves both the owner route and the admin route; the service
// enforces owner-or-admin.
func SetItemStatus(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body itemStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.SetStatus(r.Context(), actor, id, body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

func AdminDeleteItem(svc items.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("items"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), actor, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
