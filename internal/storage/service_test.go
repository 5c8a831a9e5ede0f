package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

type fakeStore struct {
	puts    map[string][]byte
	deleted []string
	putErr  error
}

func newFakeStore() *fakeStore { return &fakeStore{puts: map[string][]byte{}} }

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts[key] = data
	return "https://cdn.example.test/" + key, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) URL(key string) (string, error) {
	return "https://cdn.example.test/" + key, nil
}

type fakeProfiles struct {
	setAvatarFn func(ctx context.Context, actor policy.Actor, url string) (*models.Profile, error)
}

func (f fakeProfiles) SetAvatar(ctx context.Context, actor policy.Actor, url string) (*models.Profile, error) {
	return f.setAvatarFn(ctx, actor, url)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T, store *fakeStore, profiles fakeProfiles) *service {
	t.Helper()
	svc, err := NewService(ServiceParams{Store: store, Profiles: profiles})
	require.NoError(t, err)
	s := svc.(*service)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return s
}

func TestUploadUsesDefaultPath(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, fakeProfiles{})
	actor := policy.Actor{ID: uuid.New()}

	obj, err := svc.Upload(context.Background(), actor, BucketItemImages, "", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, actor.ID.String()+"/1700000000123.jpg", obj.Path)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Contains(t, store.puts, "item-images/"+obj.Path)
	assert.True(t, strings.HasSuffix(obj.URL, obj.Path))
}

func TestUploadPathRules(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, fakeProfiles{})
	actor := policy.Actor{ID: uuid.New()}
	ctx := context.Background()

	obj, err := svc.Upload(ctx, actor, BucketItemImages, actor.ID.String()+"-cover.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, actor.ID.String()+"-cover.jpg", obj.Path)

	_, err = svc.Upload(ctx, actor, BucketItemImages, uuid.NewString()+"/x.png", bytes.NewReader(pngBytes(t)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), err)

	_, err = svc.Upload(ctx, actor, BucketItemImages, actor.ID.String()+"/../other/x.png", bytes.NewReader(pngBytes(t)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), err)

	_, err = svc.Upload(ctx, actor, Bucket("secrets"), "", bytes.NewReader(pngBytes(t)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), err)

	_, err = svc.Upload(ctx, policy.Actor{}, BucketItemImages, "", bytes.NewReader(pngBytes(t)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), err)

	_, err = svc.Upload(ctx, actor, BucketItemImages, "", strings.NewReader("plain text"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), err)
}

func TestDeleteOwnObjectsOnly(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, fakeProfiles{})
	actor := policy.Actor{ID: uuid.New()}

	require.NoError(t, svc.Delete(context.Background(), actor, BucketItemImages, actor.ID.String()+"/1.jpg"))
	assert.Equal(t, []string{"item-images/" + actor.ID.String() + "/1.jpg"}, store.deleted)

	err := svc.Delete(context.Background(), actor, BucketItemImages, uuid.NewString()+"/1.jpg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestPublicURL(t *testing.T) {
	svc := newTestService(t, newFakeStore(), fakeProfiles{})
	url, err := svc.PublicURL(BucketProfileAvatars, "abc/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.test/profile-avatars/abc/1.jpg", url)
}

func TestUploadAvatarSetsProfile(t *testing.T) {
	store := newFakeStore()
	actor := policy.Actor{ID: uuid.New()}
	var gotURL string
	svc := newTestService(t, store, fakeProfiles{setAvatarFn: func(_ context.Context, a policy.Actor, url string) (*models.Profile, error) {
		gotURL = url
		return &models.Profile{ID: a.ID, AvatarURL: &url}, nil
	}})

	profile, err := svc.UploadAvatar(context.Background(), actor, bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	require.NotNil(t, profile.AvatarURL)
	assert.Equal(t, gotURL, *profile.AvatarURL)
	assert.Contains(t, gotURL, "profile-avatars/"+actor.ID.String()+"/")
}

func TestUploadAvatarCleansUpOnProfileFailure(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, fakeProfiles{setAvatarFn: func(context.Context, policy.Actor, string) (*models.Profile, error) {
		return nil, errors.New("db down")
	}})

	_, err := svc.UploadAvatar(context.Background(), policy.Actor{ID: uuid.New()}, bytes.NewReader(pngBytes(t)))
	require.Error(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestUploadStoreFailureIsDependencyError(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("timeout")
	svc := newTestService(t, store, fakeProfiles{})

	_, err := svc.Upload(context.Background(), policy.Actor{ID: uuid.New()}, BucketItemImages, "", bytes.NewReader(pngBytes(t)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
