package core

import (
	"context"
	"depot/internal/depot"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before parts spill to temporary files.
const multipartMemory = 8 << 20

// StatusClientClosedRequest is written when the request context is cancelled
// before a response is produced.
const StatusClientClosedRequest = 499

// Server exposes a depot over HTTP.
type Server struct {
	cfg        Config
	store      *depot.Store
	uploader   *depot.Uploader
	thumbnails *depot.Thumbnails
	gatherer   prometheus.Gatherer
}

// NewServer validates cfg and returns a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Thumbnails == nil {
		return nil, errors.New("thumbnails must not be nil")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:        cfg,
		store:      cfg.Store,
		uploader:   depot.NewUploader(cfg.Store),
		thumbnails: cfg.Thumbnails,
		gatherer:   gatherer,
	}, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeJSONResponse encodes v as JSON and writes it to w with the given status.
func writeJSONResponse(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// writeDepotError maps an error from the depot package to a response.
func writeDepotError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, depot.ErrNotFound):
		writeError(w, "NoSuchFile", "The specified file does not exist.", r.URL.Path, http.StatusNotFound)
	case errors.Is(err, depot.ErrSourceNotFound):
		writeError(w, "NoSuchFile", "The source file does not exist.", r.URL.Path, http.StatusNotFound)
	case errors.Is(err, depot.ErrInvalidDimensions):
		writeError(w, "InvalidArgument", err.Error(), r.URL.Path, http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		slog.Debug("Request cancelled", "request_id", RequestIDFromContext(ctx), "path", r.URL.Path)
		writeError(w, "RequestCancelled", "The request was cancelled.", r.URL.Path, StatusClientClosedRequest)
	case errors.Is(err, depot.ErrStoreUnavailable):
		slog.Error("Object store failure", "request_id", RequestIDFromContext(ctx), "path", r.URL.Path, "error", err)
		writeError(w, "ServiceUnavailable", "The object store is unavailable.", r.URL.Path, http.StatusServiceUnavailable)
	default:
		slog.Error("Request failed", "request_id", RequestIDFromContext(ctx), "path", r.URL.Path, "error", err)
		writeError(w, "InternalError", "Internal Server Error", r.URL.Path, http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(_ context.Context, w http.ResponseWriter, _ *http.Request) {
	_ = writeJSONResponse(w, http.StatusOK, HealthStatus{Status: "ok"})
}

// handleUpload stores every part of the "files" form field and responds with
// their descriptors.
func (s *Server) handleUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "EntityTooLarge", fmt.Sprintf("Upload exceeds %d bytes.", tooLarge.Limit), r.URL.Path, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "MalformedRequest", "Expected a multipart/form-data body.", r.URL.Path, http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	files := make([]depot.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, depot.UploadFile{
			Name: fh.Filename,
			Size: fh.Size,
			Open: openPart(fh),
		})
	}

	descriptors, err := s.uploader.AddMany(ctx, files)
	if err != nil {
		writeDepotError(ctx, w, r, err)
		return
	}
	if descriptors == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_ = writeJSONResponse(w, http.StatusCreated, descriptors)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadSeekCloser, error) {
	return func() (io.ReadSeekCloser, error) {
		return fh.Open()
	}
}

func (s *Server) handleList(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	result := ListFilesResult{
		Container: s.store.ContainerName(),
		Keys:      []string{},
	}

	for key, err := range s.store.List(ctx) {
		if err != nil {
			writeDepotError(ctx, w, r, err)
			return
		}
		result.Keys = append(result.Keys, key)
	}

	_ = writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleMeta(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) {
	desc, err := s.store.Get(ctx, id)
	if err != nil {
		writeDepotError(ctx, w, r, err)
		return
	}
	_ = writeJSONResponse(w, http.StatusOK, desc)
}

// handleContent streams a stored file with its original name.
func (s *Server) handleContent(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) {
	desc, err := s.store.Get(ctx, id)
	if err != nil {
		writeDepotError(ctx, w, r, err)
		return
	}

	rc, found, err := s.store.OpenRead(ctx, id)
	if err != nil {
		writeDepotError(ctx, w, r, err)
		return
	}
	if !found {
		writeDepotError(ctx, w, r, fmt.Errorf("%w: %s", depot.ErrNotFound, id))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", desc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(desc.Size, 10))
	if desc.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": desc.FileName}))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Streaming file failed", "request_id", RequestIDFromContext(ctx), "id", id, "error", err)
	}
}

// handleThumbnail serves GET /files/{id}/thumbnail?w=&h=&fill=.
func (s *Server) handleThumbnail(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) {
	query := r.URL.Query()

	width, err := parseDimension(query.Get("w"))
	if err != nil {
		writeError(w, "InvalidArgument", "w must be an integer.", r.URL.Path, http.StatusBadRequest)
		return
	}
	height, err := parseDimension(query.Get("h"))
	if err != nil {
		writeError(w, "InvalidArgument", "h must be an integer.", r.URL.Path, http.StatusBadRequest)
		return
	}

	fill := false
	if v := query.Get("fill"); v != "" {
		fill, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, "InvalidArgument", "fill must be a boolean.", r.URL.Path, http.StatusBadRequest)
			return
		}
	}

	rc, ok, err := s.thumbnails.Get(ctx, id, fill, width, height)
	if err != nil {
		writeDepotError(ctx, w, r, err)
		return
	}
	if !ok {
		writeError(w, "UnsupportedMediaType", "The file is not a renderable image.", r.URL.Path, http.StatusUnsupportedMediaType)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Streaming thumbnail failed", "request_id", RequestIDFromContext(ctx), "id", id, "error", err)
	}
}

// parseDimension parses an optional integer query parameter. An empty value
// means the dimension is absent.
func parseDimension(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
