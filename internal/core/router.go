package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an http.Handler serving the file API.
func (s *Server) Handler() http.Handler {
	files := http.NewServeMux()

	files.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleUpload(ctx, w, r)
	})
	files.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleList(ctx, w, r)
	})
	files.HandleFunc("GET /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		s.handleContent(ctx, w, r, id)
	})
	files.HandleFunc("GET /files/{id}/meta", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		s.handleMeta(ctx, w, r, id)
	})
	files.HandleFunc("GET /files/{id}/thumbnail", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		s.handleThumbnail(ctx, w, r, id)
	})
	files.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "NotFound", "No such route.", r.URL.Path, http.StatusNotFound)
	})

	var api http.Handler = files
	if s.cfg.Authenticator != nil {
		api = RequireAuthentication(s.cfg.Authenticator)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleHealth(ctx, w, r)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", api)

	// Add middleware
	handler := SlashFix(mux)
	handler = Recoverer(handler)
	handler = LogRequest(handler)
	handler = RequestID(handler)
	return handler
}
