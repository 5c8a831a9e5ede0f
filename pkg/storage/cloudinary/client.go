package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

type adminAPI interface {
	Ping(ctx context.Context) (*admin.PingResult, error)
}

// Client stores objects as Cloudinary image assets. Object keys map to public
// ids under the configured root folder with the extension dropped.
type Client struct {
	upload uploadAPI
	admin  adminAPI
	urlFn  func(publicID string) (string, error)
	root   string
	logg   *logger.Logger
}

func NewClient(cfg config.StorageConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.CloudinaryURL) == "" {
		return nil, errors.New("cloudinary url is required")
	}
	sdk, err := cld.NewFromURL(cfg.CloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("initializing cloudinary client: %w", err)
	}
	sdk.Config.URL.Secure = true

	return &Client{
		upload: &sdk.Upload,
		admin:  &sdk.Admin,
		urlFn: func(publicID string) (string, error) {
			asset, err := sdk.Image(publicID)
			if err != nil {
				return "", err
			}
			return asset.String()
		},
		root: strings.Trim(cfg.RootFolder, "/"),
		logg: logg,
	}, nil
}

// PublicID returns the Cloudinary public id for an object key.
func (c *Client) PublicID(key string) string {
	key = strings.Trim(key, "/")
	key = strings.TrimSuffix(key, path.Ext(key))
	if c.root == "" {
		return key
	}
	return c.root + "/" + key
}

// Put uploads data under key and returns its delivery URL. Existing objects
// are overwritten.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	publicID := c.PublicID(key)
	resp, err := c.upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:       publicID,
		ResourceType:   "image",
		Overwrite:      api.Bool(true),
		Invalidate:     api.Bool(true),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", publicID, err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("upload %s: %s", publicID, resp.Error.Message)
	}
	if resp.SecureURL == "" {
		return "", fmt.Errorf("upload %s: empty secure url", publicID)
	}
	if c.logg != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{"public_id": publicID, "content_type": contentType, "bytes": len(data)})
		c.logg.Debug(ctx, "storage.object_uploaded")
	}
	return resp.SecureURL, nil
}

// Delete removes the object under key. Missing objects are not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	publicID := c.PublicID(key)
	resp, err := c.upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: "image",
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("destroy %s: %w", publicID, err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("destroy %s: %s", publicID, resp.Error.Message)
	}
	if resp.Result != "ok" && resp.Result != "not found" {
		return fmt.Errorf("destroy %s: unexpected result %q", publicID, resp.Result)
	}
	return nil
}

// URL returns the public delivery URL for key without contacting the API.
func (c *Client) URL(key string) (string, error) {
	return c.urlFn(c.PublicID(key))
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.admin.Ping(ctx)
	if err != nil {
		return fmt.Errorf("cloudinary ping: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary ping: %s", resp.Error.Message)
	}
	return nil
}
