package controllers

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/lostfound-backend/api/responses"
	"github.com/angelmondragon/lostfound-backend/internal/storage"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

const (
	uploadFormField = "file"
	uploadPathField = "path"
	maxFormMemory   = 2 << 20
)

func bucketParam(r *http.Request) (storage.Bucket, error) {
	bucket, err := storage.ParseBucket(chi.URLParam(r, "bucket"))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "bucket not found")
	}
	return bucket, nil
}

// uploadBody accepts either a multipart form with a "file" part or the raw
// image as the request body. The object path comes from the "path" form field
// or query parameter and may be empty.
func uploadBody(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, strings.TrimSpace(r.URL.Query().Get(uploadPathField)), nil
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form")
	}
	file, _, err := r.FormFile(uploadFormField)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file is required")
	}
	objectPath := strings.TrimSpace(r.FormValue(uploadPathField))
	if objectPath == "" {
		objectPath = strings.TrimSpace(r.URL.Query().Get(uploadPathField))
	}
	return file, objectPath, nil
}

func UploadObject(svc storage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("storage"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bucket, err := bucketParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body, objectPath, err := uploadBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer body.Close()

		obj, err := svc.Upload(r.Context(), actor, bucket, objectPath, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, obj)
	}
}

func DeleteObject(svc storage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("storage"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bucket, err := bucketParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), actor, bucket, chi.URLParam(r, "*")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// ServeObject redirects public reads to the object's delivery URL.
func ServeObject(svc storage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("storage"))
			return
		}
		bucket, err := bucketParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		url, err := svc.PublicURL(bucket, chi.URLParam(r, "*"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// UploadAvatar stores the image and points the caller's profile at it.
func UploadAvatar(svc storage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("storage"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body, _, err := uploadBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer body.Close()

		profile, err := svc.UploadAvatar(r.Context(), actor, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}
