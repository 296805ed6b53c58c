package depot

import (
	"context"
	"depot/internal/contenttype"
	"depot/internal/ident"
	"depot/internal/storage"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store keeps files in a single container of an object store and records
// each file's original name as object metadata.
type Store struct {
	client storage.Client
	name   string

	// bound is set once the container has been verified or created and is
	// never changed afterwards. initMu serialises the first resolution.
	bound  atomic.Pointer[boundContainer]
	initMu sync.Mutex
}

type boundContainer struct {
	storage.Container
}

// NewStore returns a Store for the named container. The container is
// resolved, and created if necessary, on first use.
func NewStore(client storage.Client, containerName string) *Store {
	return &Store{client: client, name: containerName}
}

// ContainerName returns the name of the backing container.
func (s *Store) ContainerName() string {
	return s.name
}

// container returns the backing container handle, ensuring it exists on the
// first call. A failed resolution is not remembered, so the next call tries
// again.
func (s *Store) container(ctx context.Context) (storage.Container, error) {
	if b := s.bound.Load(); b != nil {
		return b.Container, nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	if b := s.bound.Load(); b != nil {
		return b.Container, nil
	}

	if err := s.ensureContainer(ctx); err != nil {
		return nil, unavailable(fmt.Errorf("resolve container %q: %w", s.name, err))
	}

	b := &boundContainer{Container: s.client.Container(s.name)}
	s.bound.Store(b)
	return b.Container, nil
}

// ensureContainer creates the container unless it already exists. Losing a
// creation race to another process counts as success.
func (s *Store) ensureContainer(ctx context.Context) error {
	exists, err := s.client.ContainerExists(ctx, s.name)
	if err != nil {
		return err
	}
	if exists {
		slog.Info("Container was found", "container", s.name)
		return nil
	}

	slog.Info("Creating storage container", "container", s.name)
	err = s.client.CreateContainer(ctx, s.name)
	if err == nil {
		slog.Info("Container has been created", "container", s.name)
		return nil
	}
	if errors.Is(err, storage.ErrContainerExists) {
		slog.Info("Container was created concurrently", "container", s.name)
		return nil
	}

	// Not every backend reports a lost race distinctly; trust a second look.
	if exists, checkErr := s.client.ContainerExists(ctx, s.name); checkErr == nil && exists {
		slog.Info("Container was created concurrently", "container", s.name, "create_err", err)
		return nil
	}
	return err
}

// Put uploads the contents of r under id, replacing any existing object. r is
// rewound to its start first, so a partially consumed stream is uploaded in
// full.
func (s *Store) Put(ctx context.Context, id string, fileName string, contentType string, r io.ReadSeeker) error {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("measure upload stream: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload stream: %w", err)
	}

	c, err := s.container(ctx)
	if err != nil {
		return err
	}

	metadata := map[string]string{
		FileNameMetadataKey: fileName,
	}
	if err := c.Upload(ctx, id, r, size, contentType, metadata); err != nil {
		return unavailable(fmt.Errorf("upload %q: %w", id, err))
	}

	slog.Debug("Uploaded object", "id", id, "file_name", fileName, "content_type", contentType, "size", size, "container", s.name)
	return nil
}

// AddFromStream stores r as a new file and returns its descriptor. An empty
// id means a new one is generated. The content type is derived from
// fileName. A nil r stores nothing and returns a nil descriptor.
func (s *Store) AddFromStream(ctx context.Context, r io.ReadSeeker, size int64, fileName string, id string) (*FileDescriptor, error) {
	if r == nil {
		return nil, nil
	}

	if id == "" {
		id = ident.New()
	}
	contentType := contenttype.Resolve(fileName)

	if err := s.Put(ctx, id, fileName, contentType, r); err != nil {
		return nil, err
	}

	return &FileDescriptor{
		ID:          id,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Get returns the descriptor of the object stored under id, or an error
// wrapping ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (FileDescriptor, error) {
	c, err := s.container(ctx)
	if err != nil {
		return FileDescriptor{}, err
	}

	props, err := c.Properties(ctx, id)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return FileDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return FileDescriptor{}, unavailable(err)
	}

	fileName, _ := lookupMetadata(props.Metadata, FileNameMetadataKey)
	return FileDescriptor{
		ID:          id,
		FileName:    fileName,
		ContentType: props.ContentType,
		Size:        props.Size,
	}, nil
}

// Exists reports whether an object is stored under id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	c, err := s.container(ctx)
	if err != nil {
		return false, err
	}

	exists, err := c.Exists(ctx, id)
	if err != nil {
		return false, unavailable(err)
	}
	return exists, nil
}

// OpenRead opens the content stored under id. Unlike Get, a missing object
// is not an error: found is false and the reader is nil.
func (s *Store) OpenRead(ctx context.Context, id string) (io.ReadCloser, bool, error) {
	c, err := s.container(ctx)
	if err != nil {
		return nil, false, err
	}

	rc, err := c.Download(ctx, id)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return rc, true, nil
}

// List enumerates every key in the container. It is meant for diagnostics.
func (s *Store) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c, err := s.container(ctx)
		if err != nil {
			yield("", err)
			return
		}

		for key, err := range c.List(ctx) {
			if err != nil {
				yield("", unavailable(err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}
