package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
	"github.com/angelmondragon/lostfound-backend/pkg/imaging"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

// Bucket names a public-read object namespace.
type Bucket string

const (
	BucketItemImages     Bucket = "item-images"
	BucketProfileAvatars Bucket = "profile-avatars"
)

func ParseBucket(value string) (Bucket, error) {
	switch b := Bucket(strings.TrimSpace(value)); b {
	case BucketItemImages, BucketProfileAvatars:
		return b, nil
	default:
		return "", fmt.Errorf("unknown bucket %q", value)
	}
}

var objectPathPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-/]*$`)

// ObjectStore is the blob backend.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) (string, error)
}

type avatarSetter interface {
	SetAvatar(ctx context.Context, actor policy.Actor, url string) (*models.Profile, error)
}

// Object describes a stored upload.
type Object struct {
	Bucket      Bucket `json:"bucket"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type Service interface {
	Upload(ctx context.Context, actor policy.Actor, bucket Bucket, objectPath string, r io.Reader) (*Object, error)
	Delete(ctx context.Context, actor policy.Actor, bucket Bucket, objectPath string) error
	PublicURL(bucket Bucket, objectPath string) (string, error)
	UploadAvatar(ctx context.Context, actor policy.Actor, r io.Reader) (*models.Profile, error)
}

type ServiceParams struct {
	Store         ObjectStore
	Profiles      avatarSetter
	Image         imaging.Options
	UploadTimeout time.Duration
	Logger        *logger.Logger
}

type service struct {
	store    ObjectStore
	profiles avatarSetter
	image    imaging.Options
	timeout  time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "object store required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "profile service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		store:    params.Store,
		profiles: params.Profiles,
		image:    params.Image,
		timeout:  params.UploadTimeout,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// DefaultPath is {account_id}/{unix_millis}.{ext}.
func DefaultPath(accountID uuid.UUID, at time.Time, ext string) string {
	return fmt.Sprintf("%s/%d.%s", accountID, at.UnixMilli(), strings.TrimPrefix(ext, "."))
}

// Upload processes the image and stores it. An empty objectPath gets the
// default path; any path must belong to the actor. The stored object is always
// JPEG, so the extension of a given path is rewritten to .jpg.
func (s *service) Upload(ctx context.Context, actor policy.Actor, bucket Bucket, objectPath string, r io.Reader) (*Object, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if _, err := ParseBucket(string(bucket)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "bucket not found")
	}

	processed, err := imaging.Process(r, s.image)
	if err != nil {
		return nil, imageError(err)
	}

	if strings.TrimSpace(objectPath) == "" {
		objectPath = DefaultPath(actor.ID, s.now(), processed.Ext)
	} else {
		objectPath, err = cleanPath(objectPath)
		if err != nil {
			return nil, err
		}
		objectPath = strings.TrimSuffix(objectPath, path.Ext(objectPath)) + "." + processed.Ext
	}
	if !policy.CanWriteObject(actor, objectPath) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "objects must live under your account id")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	url, err := s.store.Put(ctx, key(bucket, objectPath), processed.Data, processed.MIME)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store object")
	}

	return &Object{
		Bucket:      bucket,
		Path:        objectPath,
		URL:         url,
		ContentType: processed.MIME,
		Size:        len(processed.Data),
		Width:       processed.Width,
		Height:      processed.Height,
	}, nil
}

func (s *service) Delete(ctx context.Context, actor policy.Actor, bucket Bucket, objectPath string) error {
	if actor.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if _, err := ParseBucket(string(bucket)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "bucket not found")
	}
	objectPath, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	if !policy.CanWriteObject(actor, objectPath) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "objects must live under your account id")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Delete(ctx, key(bucket, objectPath)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete object")
	}
	return nil
}

// PublicURL resolves the delivery URL of an object. Reads are public.
func (s *service) PublicURL(bucket Bucket, objectPath string) (string, error) {
	if _, err := ParseBucket(string(bucket)); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "bucket not found")
	}
	objectPath, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	url, err := s.store.URL(key(bucket, objectPath))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve object url")
	}
	return url, nil
}

// UploadAvatar stores the image in the avatar bucket and points the actor's
// profile at it.
func (s *service) UploadAvatar(ctx context.Context, actor policy.Actor, r io.Reader) (*models.Profile, error) {
	obj, err := s.Upload(ctx, actor, BucketProfileAvatars, "", r)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.SetAvatar(ctx, actor, obj.URL)
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key(obj.Bucket, obj.Path)); delErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "path", obj.Path), "storage.avatar_cleanup_failed", delErr)
		}
		return nil, err
	}
	return profile, nil
}

func (s *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func key(bucket Bucket, objectPath string) string {
	return string(bucket) + "/" + objectPath
}

func cleanPath(raw string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(raw), "/")
	if p == "" || !objectPathPattern.MatchString(p) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid object path")
	}
	if path.Clean(p) != p || strings.Contains(p, "..") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid object path")
	}
	return p, nil
}

func imageError(err error) error {
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image is too large")
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image must be JPEG, PNG, GIF or WebP")
	case errors.Is(err, imaging.ErrEmpty):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image is required")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "process image")
	}
}
