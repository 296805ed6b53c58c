// Package storage provides the object store backends used by depot. Every
// backend exposes the same container-scoped blob operations; objects carry a
// content type and a string-keyed metadata map.
package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

var (
	// ErrObjectNotFound is returned when no object exists under a key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrContainerNotFound is returned when operating on a container that has
	// not been created.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerExists is returned by CreateContainer when the container is
	// already present.
	ErrContainerExists = errors.New("container already exists")

	// ErrInvalidName is returned for container names or keys the backend
	// cannot address.
	ErrInvalidName = errors.New("invalid name")
)

// Properties describes a stored object without its payload.
type Properties struct {
	ContentType  string
	Size         int64
	Metadata     map[string]string
	LastModified time.Time
}

// Client is an object store holding named containers.
type Client interface {
	// ContainerExists reports whether the named container has been created.
	ContainerExists(ctx context.Context, name string) (bool, error)

	// CreateContainer creates the named container. It returns an error
	// wrapping ErrContainerExists if the container is already present.
	CreateContainer(ctx context.Context, name string) error

	// Container returns a handle for the named container. It performs no I/O
	// and does not check that the container exists.
	Container(name string) Container
}

// Container addresses blobs inside a single container by string key.
type Container interface {
	// Name returns the container name.
	Name() string

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload stores the contents of r under key, replacing any existing
	// object. size is the exact payload length, or -1 if unknown.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error

	// Download opens the payload stored under key. It returns an error
	// wrapping ErrObjectNotFound if there is no such object.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Properties returns the content type, size and metadata of the object
	// stored under key, or an error wrapping ErrObjectNotFound.
	Properties(ctx context.Context, key string) (Properties, error)

	// List enumerates the keys stored in the container in key order.
	List(ctx context.Context) iter.Seq2[string, error]
}
