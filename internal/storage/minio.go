package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// MinioStorage is a Client backed by any S3-compatible service.
type MinioStorage struct {
	client *minio.Client
	region string
}

var _ Client = (*MinioStorage)(nil)

// NewMinioStorage creates a client for the endpoint described by cfg. No
// request is made until the first operation.
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStorage{client: client, region: cfg.Region}, nil
}

func (s *MinioStorage) ContainerExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check bucket %q: %w", name, err)
	}
	return exists, nil
}

func (s *MinioStorage) CreateContainer(ctx context.Context, name string) error {
	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: s.region}); err != nil {
		if isBucketAlreadyExists(err) {
			return fmt.Errorf("%w: %s", ErrContainerExists, name)
		}
		return fmt.Errorf("create bucket %q: %w", name, err)
	}
	return nil
}

func (s *MinioStorage) Container(name string) Container {
	return &minioContainer{client: s.client, bucket: name}
}

// isObjectNotFound reports whether err is an S3 "no such key" response.
func isObjectNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

func isBucketAlreadyExists(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

type minioContainer struct {
	client *minio.Client
	bucket string
}

func (c *minioContainer) Name() string {
	return c.bucket
}

func (c *minioContainer) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isObjectNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q in bucket %q: %w", key, c.bucket, err)
	}
	return true, nil
}

func (c *minioContainer) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", key, c.bucket, err)
	}
	return nil
}

func (c *minioContainer) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, c.bucket, err)
	}

	// GetObject is lazy; Stat forces the request so a missing key surfaces
	// here rather than on the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isObjectNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, c.bucket, key)
		}
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, c.bucket, err)
	}
	return obj, nil
}

func (c *minioContainer) Properties(ctx context.Context, key string) (Properties, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return Properties{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, c.bucket, key)
		}
		return Properties{}, fmt.Errorf("stat object %q in bucket %q: %w", key, c.bucket, err)
	}

	metadata := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}

	return Properties{
		ContentType:  info.ContentType,
		Size:         info.Size,
		Metadata:     metadata,
		LastModified: info.LastModified,
	}, nil
}

func (c *minioContainer) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		// Cancelling stops the listing goroutine if the caller breaks early.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for objectInfo := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: true}) {
			if objectInfo.Err != nil {
				yield("", fmt.Errorf("failed to list objects in bucket %q: %w", c.bucket, objectInfo.Err))
				return
			}
			if !yield(objectInfo.Key, nil) {
				return
			}
		}
	}
}
