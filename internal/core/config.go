package core

import (
	"depot/internal/auth"
	"depot/internal/depot"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxUploadBytes caps the size of a POST /files request body.
const DefaultMaxUploadBytes = 64 << 20

type Config struct {
	Store      *depot.Store
	Thumbnails *depot.Thumbnails

	// Authenticator guards the /files routes. nil disables authentication.
	Authenticator auth.AuthEngine

	MaxUploadBytes int64

	// Gatherer backs GET /metrics. nil serves the default registry.
	Gatherer prometheus.Gatherer
}

type ConfigOption func(*Config)

func WithStore(store *depot.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithThumbnails(thumbnails *depot.Thumbnails) ConfigOption {
	return func(cfg *Config) {
		cfg.Thumbnails = thumbnails
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func WithGatherer(gatherer prometheus.Gatherer) ConfigOption {
	return func(cfg *Config) {
		cfg.Gatherer = gatherer
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{MaxUploadBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
