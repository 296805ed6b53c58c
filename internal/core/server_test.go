package core_test

import (
	"bytes"
	"context"
	"depot/internal/auth"
	"depot/internal/core"
	"depot/internal/depot"
	"depot/internal/storage"
	"depot/internal/thumbnail"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	AccessKeyID     = "depotadmin"
	SecretAccessKey = "depotsecret"
)

type testServer struct {
	*httptest.Server
	Store   *depot.Store
	Handler http.Handler
}

// NewTestServer creates a Server backed by a temporary local object store
// and returns it wrapped in an httptest.Server.
func NewTestServer(t *testing.T, opts ...core.ConfigOption) *testServer {
	t.Helper()

	backend, err := storage.NewLocalFileStorage(t.Context(), t.TempDir())
	require.NoError(t, err, "NewLocalFileStorage error")
	t.Cleanup(func() { _ = backend.Close() })

	reg := prometheus.NewRegistry()
	store := depot.NewStore(backend, "files")
	thumbs, err := depot.NewThumbnails(store, thumbnail.New(thumbnail.DefaultQuality),
		depot.WithMaxDimension(1024),
		depot.WithMetrics(depot.NewMetrics(reg)),
	)
	require.NoError(t, err)

	base := []core.ConfigOption{
		core.WithStore(store),
		core.WithThumbnails(thumbs),
		core.WithGatherer(reg),
	}
	srv, err := core.NewServer(core.NewConfig(append(base, opts...)...))
	require.NoError(t, err, "NewServer error")

	handler := srv.Handler()
	httpSrv := httptest.NewServer(handler)
	t.Cleanup(httpSrv.Close)

	return &testServer{Server: httpSrv, Store: store, Handler: handler}
}

type RequestOption func(*http.Request)

func WithHeader(key string, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

func WithBasicAuth(user, password string) RequestOption {
	return func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
}

func DoMethod(t *testing.T, method string, url string, body io.Reader, opts ...RequestOption) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, body)
	require.NoError(t, err, "creating "+method+" request")
	for _, opt := range opts {
		opt(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func DoGet(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodGet, url, nil, opts...)
}

type part struct {
	name    string
	content []byte
}

// DoUpload posts parts as multipart "files" fields.
func DoUpload(t *testing.T, url string, parts []part, opts ...RequestOption) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile("files", p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	opts = append([]RequestOption{WithHeader("Content-Type", mw.FormDataContentType())}, opts...)
	return DoMethod(t, http.MethodPost, url+"/files", &buf, opts...)
}

func DecodeError(t *testing.T, r io.Reader) core.ErrorResponse {
	t.Helper()
	var e core.ErrorResponse
	require.NoError(t, json.NewDecoder(r).Decode(&e), "decoding error response")
	return e
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadOne(t *testing.T, srv *testServer, name string, content []byte) depot.FileDescriptor {
	t.Helper()

	resp := DoUpload(t, srv.URL, []part{{name, content}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var descs []depot.FileDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&descs))
	require.Len(t, descs, 1)
	return descs[0]
}

func TestUploadAndDownload(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoUpload(t, srv.URL, []part{
		{"hello.txt", []byte("hello")},
		{"empty.txt", nil},
		{"data.json", []byte(`{"a":1}`)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var descs []depot.FileDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&descs))
	require.Len(t, descs, 2)

	require.Equal(t, "hello.txt", descs[0].FileName)
	require.Equal(t, "text/plain", descs[0].ContentType)
	require.EqualValues(t, 5, descs[0].Size)
	require.Equal(t, "data.json", descs[1].FileName)
	require.Equal(t, "application/json", descs[1].ContentType)

	resp = DoGet(t, srv.URL+"/files/"+descs[0].ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	require.Equal(t, "5", resp.Header.Get("Content-Length"))

	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	require.Equal(t, "attachment", disposition)
	require.Equal(t, "hello.txt", params["filename"])

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestUploadOnlyEmptyFiles(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoUpload(t, srv.URL, []part{{"a.txt", nil}, {"b.txt", nil}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = DoUpload(t, srv.URL, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoMethod(t, http.MethodPost, srv.URL+"/files", strings.NewReader("raw"), WithHeader("Content-Type", "text/plain"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "MalformedRequest", DecodeError(t, resp.Body).Code)
}

func TestUploadTooLarge(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t, core.WithMaxUploadBytes(512))

	resp := DoUpload(t, srv.URL, []part{{"big.bin", bytes.Repeat([]byte("x"), 4096)}})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, "EntityTooLarge", DecodeError(t, resp.Body).Code)
}

func TestGetMeta(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	desc := uploadOne(t, srv, "notes.md", []byte("# notes"))

	resp := DoGet(t, srv.URL+"/files/"+desc.ID+"/meta")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got depot.FileDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, desc, got)
}

func TestMissingFile(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	for _, path := range []string{"/files/nope", "/files/nope/meta"} {
		resp := DoGet(t, srv.URL+path)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)

		e := DecodeError(t, resp.Body)
		require.Equal(t, "NoSuchFile", e.Code)
		require.Equal(t, path, e.Resource)
	}
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoGet(t, srv.URL+"/files")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty core.ListFilesResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	require.Equal(t, "files", empty.Container)
	require.Empty(t, empty.Keys)

	a := uploadOne(t, srv, "a.txt", []byte("a"))
	b := uploadOne(t, srv, "b.txt", []byte("b"))

	// Trailing slash is routed like the bare path.
	resp = DoGet(t, srv.URL+"/files/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result core.ListFilesResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.ElementsMatch(t, []string{a.ID, b.ID}, result.Keys)
}

func TestThumbnail(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	desc := uploadOne(t, srv, "photo.png", pngBytes(t, 120, 80))

	resp := DoGet(t, srv.URL+"/files/"+desc.ID+"/thumbnail?w=30&h=30&fill=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	first, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first))
	require.NoError(t, err)
	require.Equal(t, 30, cfg.Width)
	require.Equal(t, 30, cfg.Height)

	resp = DoGet(t, srv.URL+"/files/"+desc.ID+"/thumbnail?w=30&h=30&fill=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, first, second)

	exists, err := srv.Store.Exists(t.Context(), desc.ID+"_fill_30_30")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestThumbnailWidthOnly(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	desc := uploadOne(t, srv, "photo.png", pngBytes(t, 120, 80))

	resp := DoGet(t, srv.URL+"/files/"+desc.ID+"/thumbnail?w=60")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg, err := jpeg.DecodeConfig(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 60, cfg.Width)
	require.Equal(t, 40, cfg.Height)
}

func TestThumbnailErrorsTableDriven(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	img := uploadOne(t, srv, "photo.png", pngBytes(t, 20, 20))
	txt := uploadOne(t, srv, "notes.txt", []byte("plain text"))

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"missing source", "/files/nope/thumbnail?w=10", http.StatusNotFound, "NoSuchFile"},
		{"not an image", "/files/" + txt.ID + "/thumbnail?w=10", http.StatusUnsupportedMediaType, "UnsupportedMediaType"},
		{"bad width", "/files/" + img.ID + "/thumbnail?w=abc", http.StatusBadRequest, "InvalidArgument"},
		{"bad height", "/files/" + img.ID + "/thumbnail?h=1.5", http.StatusBadRequest, "InvalidArgument"},
		{"bad fill", "/files/" + img.ID + "/thumbnail?w=10&fill=maybe", http.StatusBadRequest, "InvalidArgument"},
		{"zero width", "/files/" + img.ID + "/thumbnail?w=0", http.StatusBadRequest, "InvalidArgument"},
		{"too large", "/files/" + img.ID + "/thumbnail?w=5000", http.StatusBadRequest, "InvalidArgument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := DoGet(t, srv.URL+tt.path)
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, tt.code, DecodeError(t, resp.Body).Code)
		})
	}
}

func TestUnknownRoutes(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoGet(t, srv.URL+"/nothing/here")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NotFound", DecodeError(t, resp.Body).Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoGet(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status core.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "ok", status.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	desc := uploadOne(t, srv, "photo.png", pngBytes(t, 20, 20))
	resp := DoGet(t, srv.URL+"/files/"+desc.ID+"/thumbnail?w=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoGet(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `depot_thumbnails_lookups_total{result="miss"} 1`)
	require.Contains(t, string(body), `depot_thumbnails_transforms_total 1`)
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t)

	resp := DoGet(t, srv.URL+"/healthz")
	generated := resp.Header.Get(core.RequestIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	id := uuid.NewString()
	resp = DoGet(t, srv.URL+"/healthz", WithHeader(core.RequestIDHeader, id))
	require.Equal(t, id, resp.Header.Get(core.RequestIDHeader))

	resp = DoGet(t, srv.URL+"/healthz", WithHeader(core.RequestIDHeader, "not-a-uuid"))
	require.NotEqual(t, "not-a-uuid", resp.Header.Get(core.RequestIDHeader))
}

func TestRequireAuthentication(t *testing.T) {
	t.Parallel()
	srv := NewTestServer(t, core.WithAuthEngine(auth.NewCompoundAuthEngine(
		auth.NewBasicAuthEngine(AccessKeyID, SecretAccessKey),
		auth.NewBearerTokenEngine("token-abc"),
	)))

	resp := DoGet(t, srv.URL+"/files")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	require.Equal(t, "Unauthorized", DecodeError(t, resp.Body).Code)

	resp = DoGet(t, srv.URL+"/files", WithBasicAuth(AccessKeyID, "wrong"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "AccessDenied", DecodeError(t, resp.Body).Code)

	resp = DoGet(t, srv.URL+"/files", WithBasicAuth(AccessKeyID, SecretAccessKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoGet(t, srv.URL+"/files", WithHeader("Authorization", "Bearer token-abc"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp = DoGet(t, srv.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestCancelledRequestWritesStatus(t *testing.T) {
	t.Parallel()
	ts := NewTestServer(t)

	_, err := ts.Store.AddFromStream(t.Context(), strings.NewReader("hello"), 5, "hello.txt", "greeting")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, httptest.NewRequestWithContext(ctx, http.MethodGet, "/files/greeting/meta", nil))
	require.Equal(t, core.StatusClientClosedRequest, rec.Code)
	require.Equal(t, "RequestCancelled", DecodeError(t, rec.Body).Code)
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	h := core.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "InternalError", DecodeError(t, rec.Body).Code)
}

func TestNewServerRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := core.NewServer(core.NewConfig())
	require.Error(t, err)
}
