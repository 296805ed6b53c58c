package depot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// UploadFile is one entry of an upload batch.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadSeekCloser, error)
}

// Uploader stores batches of files under generated ids.
type Uploader struct {
	store *Store
}

// NewUploader returns an Uploader writing to store.
func NewUploader(store *Store) *Uploader {
	return &Uploader{store: store}
}

// AddMany stores every non-empty file in order and returns their
// descriptors in the same order. Empty files are skipped. The result is nil,
// not an empty slice, when nothing was stored. The first failure aborts the
// batch; files stored before it are kept.
func (u *Uploader) AddMany(ctx context.Context, files []UploadFile) ([]FileDescriptor, error) {
	var result []FileDescriptor

	for _, f := range files {
		if f.Size <= 0 {
			continue
		}

		desc, err := u.add(ctx, f)
		if err != nil {
			return nil, err
		}
		if desc != nil {
			result = append(result, *desc)
		}
	}

	u.logContents(ctx)

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (u *Uploader) add(ctx context.Context, f UploadFile) (*FileDescriptor, error) {
	if f.Open == nil {
		return nil, nil
	}

	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", f.Name, err)
	}
	defer r.Close()

	desc, err := u.store.AddFromStream(ctx, r, f.Size, f.Name, "")
	if err != nil {
		return nil, fmt.Errorf("store upload %q: %w", f.Name, err)
	}
	if desc != nil {
		slog.Info("Stored file", "id", desc.ID, "file_name", desc.FileName, "content_type", desc.ContentType, "size", desc.Size)
	}
	return desc, nil
}

// logContents writes the container listing at debug level.
func (u *Uploader) logContents(ctx context.Context) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}

	count := 0
	for key, err := range u.store.List(ctx) {
		if err != nil {
			slog.Debug("Listing container failed", "container", u.store.ContainerName(), "error", err)
			return
		}
		slog.Debug("Container entry", "container", u.store.ContainerName(), "key", key)
		count++
	}
	slog.Debug("Listed container", "container", u.store.ContainerName(), "count", count)
}
