package depot_test

import (
	"bytes"
	"context"
	"depot/internal/depot"
	"depot/internal/storage"
	"depot/internal/thumbnail"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const testContainer = "depot-test"

// newBackend returns a fresh local object store rooted in a temp dir.
func newBackend(t *testing.T) *storage.LocalFileStorage {
	t.Helper()

	s, err := storage.NewLocalFileStorage(t.Context(), t.TempDir())
	require.NoError(t, err, "NewLocalFileStorage error")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T) *depot.Store {
	t.Helper()
	return depot.NewStore(newBackend(t), testContainer)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()

	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func ptr(v int) *int { return &v }

// countingTransformer counts Transform calls and can hold them until gate
// is closed.
type countingTransformer struct {
	depot.Transformer

	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func newCountingTransformer() *countingTransformer {
	return &countingTransformer{Transformer: thumbnail.New(thumbnail.DefaultQuality)}
}

func (c *countingTransformer) Transform(ctx context.Context, r io.Reader, fill bool, width, height *int) (image.Image, bool, error) {
	c.calls.Add(1)
	if c.started != nil {
		c.once.Do(func() { close(c.started) })
	}
	if c.gate != nil {
		<-c.gate
	}
	return c.Transformer.Transform(ctx, r, fill, width, height)
}

// observedClient wraps a Client, counting container operations and
// optionally injecting failures.
type observedClient struct {
	storage.Client

	existsCalls atomic.Int32
	createCalls atomic.Int32

	// existsErr is returned by the first failExists ContainerExists calls.
	existsErr  error
	failExists atomic.Int32

	// createErr replaces the result of CreateContainer after the real
	// container has been created.
	createErr error

	uploadErr error
	onExists  func(key string)
}

func (c *observedClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	c.existsCalls.Add(1)
	if c.failExists.Add(-1) >= 0 {
		return false, c.existsErr
	}
	return c.Client.ContainerExists(ctx, name)
}

func (c *observedClient) CreateContainer(ctx context.Context, name string) error {
	c.createCalls.Add(1)
	if err := c.Client.CreateContainer(ctx, name); err != nil {
		return err
	}
	return c.createErr
}

func (c *observedClient) Container(name string) storage.Container {
	return &observedContainer{Container: c.Client.Container(name), client: c}
}

type observedContainer struct {
	storage.Container
	client *observedClient
}

func (c *observedContainer) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := c.Container.Exists(ctx, key)
	if c.client.onExists != nil {
		c.client.onExists(key)
	}
	return exists, err
}

func (c *observedContainer) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error {
	if c.client.uploadErr != nil {
		return c.client.uploadErr
	}
	return c.Container.Upload(ctx, key, r, size, contentType, metadata)
}
