package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStorage is a Client backed by Google Cloud Storage. Credentials are
// resolved by the GCS client library (application default credentials).
type GCSStorage struct {
	client    *gcs.Client
	projectID string
}

var _ Client = (*GCSStorage)(nil)

// NewGCSStorage creates a GCS client. projectID is only needed to create
// buckets.
func NewGCSStorage(ctx context.Context, projectID string) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return &GCSStorage{client: client, projectID: projectID}, nil
}

// Close releases the underlying GCS client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) ContainerExists(ctx context.Context, name string) (bool, error) {
	if _, err := s.client.Bucket(name).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("getting bucket attributes for %q: %w", name, err)
	}
	return true, nil
}

func (s *GCSStorage) CreateContainer(ctx context.Context, name string) error {
	if s.projectID == "" {
		return errors.New("creating GCS bucket requires a project id")
	}

	if err := s.client.Bucket(name).Create(ctx, s.projectID, nil); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrContainerExists, name)
		}
		return fmt.Errorf("creating GCS bucket %q: %w", name, err)
	}
	return nil
}

func (s *GCSStorage) Container(name string) Container {
	return &gcsContainer{bucket: s.client.Bucket(name), name: name}
}

type gcsContainer struct {
	bucket *gcs.BucketHandle
	name   string
}

func (c *gcsContainer) Name() string {
	return c.name
}

func (c *gcsContainer) url(key string) string {
	return "gs://" + c.name + "/" + key
}

func (c *gcsContainer) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.bucket.Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("getting object attributes for %q: %w", c.url(key), err)
	}
	return true, nil
}

func (c *gcsContainer) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error {
	// Cancelling the writer's context aborts a partial upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("uploading to %q: %w", c.url(key), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer for %q: %w", c.url(key), err)
	}
	return nil
}

func (c *gcsContainer) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := c.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, c.url(key))
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", c.url(key), err)
	}
	return r, nil
}

func (c *gcsContainer) Properties(ctx context.Context, key string) (Properties, error) {
	attrs, err := c.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return Properties{}, fmt.Errorf("%w: %s", ErrObjectNotFound, c.url(key))
		}
		return Properties{}, fmt.Errorf("getting object attributes for %q: %w", c.url(key), err)
	}

	metadata := make(map[string]string, len(attrs.Metadata))
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}

	return Properties{
		ContentType:  attrs.ContentType,
		Size:         attrs.Size,
		Metadata:     metadata,
		LastModified: attrs.Updated,
	}, nil
}

func (c *gcsContainer) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := c.bucket.Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("listing gs://%s: %w", c.name, err))
				return
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}
