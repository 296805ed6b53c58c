package depot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxDimension bounds the requested thumbnail width and height.
const DefaultMaxDimension = 4096

// Transformer renders a thumbnail from a source image.
type Transformer interface {
	// Transform decodes r and scales it. ok is false when r is not a
	// renderable image, which is not an error.
	Transform(ctx context.Context, r io.Reader, fill bool, width, height *int) (img image.Image, ok bool, err error)

	// Encode serialises a transformed image.
	Encode(img image.Image) ([]byte, error)

	// ContentType is the MIME type of the bytes produced by Encode.
	ContentType() string
}

// Thumbnails serves thumbnails of stored files. Each distinct
// (source, fill, width, height) rendering is computed once and written back to
// the store under its ThumbnailKey; later requests stream the stored copy.
// Cached renderings are never invalidated, including when the source is
// overwritten.
type Thumbnails struct {
	store        *Store
	transformer  Transformer
	maxDimension int
	metrics      *Metrics

	// known remembers keys already seen in the store so repeat hits skip the
	// existence check. nil when disabled.
	known *lru.Cache[string, struct{}]

	inflight singleflight.Group
}

// ThumbnailOption configures Thumbnails.
type ThumbnailOption func(*thumbnailConfig)

type thumbnailConfig struct {
	maxDimension  int
	knownKeysSize int
	metrics       *Metrics
}

// WithMaxDimension sets the largest accepted width or height.
func WithMaxDimension(n int) ThumbnailOption {
	return func(cfg *thumbnailConfig) {
		cfg.maxDimension = n
	}
}

// WithKnownKeyCache keeps up to size rendered keys in memory. Zero disables
// the cache.
func WithKnownKeyCache(size int) ThumbnailOption {
	return func(cfg *thumbnailConfig) {
		cfg.knownKeysSize = size
	}
}

// WithMetrics records cache activity in m.
func WithMetrics(m *Metrics) ThumbnailOption {
	return func(cfg *thumbnailConfig) {
		cfg.metrics = m
	}
}

// NewThumbnails returns a thumbnail cache over store.
func NewThumbnails(store *Store, transformer Transformer, opts ...ThumbnailOption) (*Thumbnails, error) {
	cfg := thumbnailConfig{maxDimension: DefaultMaxDimension}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.maxDimension <= 0 {
		return nil, fmt.Errorf("max dimension must be positive, got %d", cfg.maxDimension)
	}

	t := &Thumbnails{
		store:        store,
		transformer:  transformer,
		maxDimension: cfg.maxDimension,
		metrics:      cfg.metrics,
	}

	if cfg.knownKeysSize > 0 {
		known, err := lru.New[string, struct{}](cfg.knownKeysSize)
		if err != nil {
			return nil, fmt.Errorf("create known key cache: %w", err)
		}
		t.known = known
	}

	return t, nil
}

// Get returns the thumbnail of sourceID. A nil width or height leaves that
// dimension unconstrained. ok is false, with a nil reader and error, when the
// source exists but is not a renderable image. A missing source yields an
// error wrapping ErrSourceNotFound.
func (t *Thumbnails) Get(ctx context.Context, sourceID string, fill bool, width, height *int) (io.ReadCloser, bool, error) {
	if err := t.validate(width, height); err != nil {
		return nil, false, err
	}

	key := ThumbnailKey{SourceID: sourceID, Fill: fill, Width: width, Height: height}.String()

	rc, hit, err := t.lookup(ctx, key)
	if err != nil {
		t.metrics.failure()
		return nil, false, err
	}
	if hit {
		t.metrics.hit()
		return rc, true, nil
	}
	t.metrics.miss()

	// Concurrent misses on one key share a single render and write. The
	// render is detached from ctx; each caller stops waiting on its own ctx.
	ch := t.inflight.DoChan(key, func() (any, error) {
		return t.render(context.WithoutCancel(ctx), key, sourceID, fill, width, height)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		t.metrics.failure()
		return nil, false, res.Err
	}
	if res.Shared {
		slog.Debug("Joined in-flight thumbnail render", "key", key)
	}

	data := res.Val.([]byte)
	if data == nil {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(data)), true, nil
}

func (t *Thumbnails) validate(width, height *int) error {
	for _, d := range []*int{width, height} {
		if d != nil && (*d < 1 || *d > t.maxDimension) {
			return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidDimensions, *d, t.maxDimension)
		}
	}
	return nil
}

// lookup opens the stored rendering for key, reporting hit=false when there
// is none.
func (t *Thumbnails) lookup(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if t.known == nil || !t.known.Contains(key) {
		exists, err := t.store.Exists(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, nil
		}
	}

	rc, found, err := t.store.OpenRead(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// Removed since it was last seen; render it again.
		if t.known != nil {
			t.known.Remove(key)
		}
		return nil, false, nil
	}

	if t.known != nil {
		t.known.Add(key, struct{}{})
	}
	return rc, true, nil
}

// render produces and stores the rendering for key. It returns nil bytes when
// the source is not renderable.
func (t *Thumbnails) render(ctx context.Context, key string, sourceID string, fill bool, width, height *int) ([]byte, error) {
	src, found, err := t.store.OpenRead(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	defer src.Close()

	t.metrics.transform()
	img, ok, err := t.transformer.Transform(ctx, src, fill, width, height)
	if err != nil {
		return nil, fmt.Errorf("render thumbnail %s: %w", key, err)
	}
	if !ok {
		t.metrics.notRenderable()
		slog.Debug("Source is not renderable", "source", sourceID, "key", key)
		return nil, nil
	}

	data, err := t.transformer.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("render thumbnail %s: %w", key, err)
	}

	if err := t.store.Put(ctx, key, key, t.transformer.ContentType(), bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if t.known != nil {
		t.known.Add(key, struct{}{})
	}

	slog.Info("Stored thumbnail", "source", sourceID, "key", key, "size", len(data))
	return data, nil
}
