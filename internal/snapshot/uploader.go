// Package snapshot writes point-in-time copies of the record database
// and ships them to S3-compatible storage. With no bucket configured the
// NoopUploader keeps the system in local-only mode.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sethvargo/go-retry"

	"github.com/mnemo-sh/mnemo/internal/config"
)

// ErrNotConfigured is returned when remote snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Uploader ships snapshot files and generates pre-signed download URLs.
type Uploader interface {
	// Upload ships the snapshot file at filePath under the given name.
	Upload(ctx context.Context, name string, filePath string) error

	// PresignedURL returns a pre-signed URL for downloading a snapshot.
	// Returns ErrNotConfigured in local-only mode.
	PresignedURL(ctx context.Context, name string) (url string, expiry time.Time, err error)
}

// s3Client is the minimal minio.Client surface the uploader needs,
// extracted so tests can substitute a mock.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper adapts *minio.Client, whose methods take concrete
// option types, to the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, opts)
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader ships snapshots to S3-compatible storage. Uploads retry
// with exponential backoff since object stores throw transient errors
// under load.
type S3Uploader struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
}

// Upload ships the file at filePath, retrying transient failures.
func (u *S3Uploader) Upload(ctx context.Context, name string, filePath string) error {
	key := objectKey(name)
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for a snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context, name string) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, objectKey(name), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(u.urlExpiry), nil
}

// NoopUploader is used in local-only mode.
type NoopUploader struct{}

// Upload is a no-op in local-only mode.
func (u *NoopUploader) Upload(ctx context.Context, name string, filePath string) error {
	return nil
}

// PresignedURL returns ErrNotConfigured in local-only mode.
func (u *NoopUploader) PresignedURL(ctx context.Context, name string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the Uploader matching the configuration:
// NoopUploader when no bucket is set, S3Uploader otherwise.
func NewUploader(cfg config.StorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: time.Duration(cfg.URLExpiry),
	}, nil
}

// objectKey is the object naming convention: snapshots/{name}.
func objectKey(name string) string {
	return "snapshots/" + name
}
