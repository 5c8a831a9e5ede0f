package cloudinary

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/pkg/config"
)

type fakeUpload struct {
	uploadFn  func(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	destroyFn func(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

func (f fakeUpload) Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	return f.uploadFn(ctx, file, params)
}

func (f fakeUpload) Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error) {
	return f.destroyFn(ctx, params)
}

type fakeAdmin struct {
	result *admin.PingResult
	err    error
}

func (f fakeAdmin) Ping(context.Context) (*admin.PingResult, error) { return f.result, f.err }

func TestPublicID(t *testing.T) {
	c := &Client{root: "lostfound"}
	assert.Equal(t, "lostfound/item-images/abc/1700", c.PublicID("item-images/abc/1700.jpg"))
	assert.Equal(t, "lostfound/profile-avatars/abc-avatar", c.PublicID("/profile-avatars/abc-avatar.png"))

	bare := &Client{}
	assert.Equal(t, "bucket/file", bare.PublicID("bucket/file.webp"))
}

func TestPutUploadsUnderPublicID(t *testing.T) {
	var got uploader.UploadParams
	var body []byte
	c := &Client{
		root: "lf",
		upload: fakeUpload{uploadFn: func(_ context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
			got = params
			r, ok := file.(io.Reader)
			require.True(t, ok)
			body, _ = io.ReadAll(r)
			return &uploader.UploadResult{SecureURL: "https://res.cloudinary.com/demo/image/upload/v1/lf/item-images/u/1.jpg"}, nil
		}},
	}

	url, err := c.Put(context.Background(), "item-images/u/1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Contains(t, url, "lf/item-images/u/1")
	assert.Equal(t, "lf/item-images/u/1", got.PublicID)
	require.NotNil(t, got.Overwrite)
	assert.True(t, *got.Overwrite)
	assert.Equal(t, []byte("jpeg"), body)
}

func TestPutSurfacesAPIErrors(t *testing.T) {
	c := &Client{upload: fakeUpload{uploadFn: func(context.Context, interface{}, uploader.UploadParams) (*uploader.UploadResult, error) {
		return &uploader.UploadResult{Error: api.ErrorResp{Message: "Invalid image file"}}, nil
	}}}
	_, err := c.Put(context.Background(), "b/x.jpg", []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid image file")
}

func TestDeleteToleratesMissingObjects(t *testing.T) {
	result := "not found"
	c := &Client{upload: fakeUpload{destroyFn: func(_ context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error) {
		assert.Equal(t, "b/x", params.PublicID)
		return &uploader.DestroyResult{Result: result}, nil
	}}}
	require.NoError(t, c.Delete(context.Background(), "b/x.jpg"))

	result = "error"
	require.Error(t, c.Delete(context.Background(), "b/x.jpg"))
}

func TestPing(t *testing.T) {
	c := &Client{admin: fakeAdmin{result: &admin.PingResult{Status: "ok"}}}
	require.NoError(t, c.Ping(context.Background()))

	c = &Client{admin: fakeAdmin{err: errors.New("dial tcp: timeout")}}
	require.Error(t, c.Ping(context.Background()))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(config.StorageConfig{}, nil)
	require.Error(t, err)
}
