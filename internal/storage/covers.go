// Package storage keeps book cover images in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxCoverBytes is the largest accepted cover upload.
const MaxCoverBytes = 5 << 20

var (
	ErrTooLarge        = errors.New("cover image too large")
	ErrEmpty           = errors.New("cover image is empty")
	ErrUnsupportedType = errors.New("cover must be an image")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/avif": "avif",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes object keys in returned URLs. Defaults to the
	// endpoint plus bucket.
	PublicURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type CoverStore struct {
	client    objectPutter
	bucket    string
	publicURL string
	newID     func() string
}

// New connects to the object store and creates the bucket when missing.
func New(ctx context.Context, cfg Config) (*CoverStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return newCoverStore(client, cfg), nil
}

func newCoverStore(client objectPutter, cfg Config) *CoverStore {
	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &CoverStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		newID:     func() string { return uuid.NewString() },
	}
}

// UploadCover stores body under covers/<bookID>/<uuid>.<ext> and returns its
// public URL. contentType must name a supported image type.
func (c *CoverStore) UploadCover(ctx context.Context, bookID int64, contentType string, body io.Reader) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", ErrUnsupportedType
	}
	ext, ok := extensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxCoverBytes+1))
	if err != nil {
		return "", fmt.Errorf("read cover: %w", err)
	}
	if len(data) > MaxCoverBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}

	key := CoverKey(bookID, c.newID(), ext)
	_, err = c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  mediaType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put cover object: %w", err)
	}
	return c.publicURL + "/" + key, nil
}

func CoverKey(bookID int64, id, ext string) string {
	return "covers/" + strconv.FormatInt(bookID, 10) + "/" + id + "." + ext
}
