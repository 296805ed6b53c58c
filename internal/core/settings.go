package core

import (
	"context"
	"depot/internal/auth"
	"depot/internal/depot"
	"depot/internal/storage"
	"depot/internal/thumbnail"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// Settings is the runtime configuration shared by the depot binaries. Every
// field has a flag whose default comes from a DEPOT_* environment variable.
type Settings struct {
	Listen    string
	LogLevel  string
	Backend   string
	DataDir   string
	Container string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioUseSSL    bool

	GCSProject string

	JPEGQuality       int
	MaxDimension      int
	KnownKeyCacheSize int
	MaxUploadBytes    int64

	AuthAccessKey string
	AuthSecretKey string
	AuthTokens    string
}

// LoadEnvFiles loads variables from the given .env files into the process
// environment. Missing files are ignored and existing variables win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		slog.Debug("Loaded environment file", "path", path)
	}
	return nil
}

// RegisterFlags binds s to flags. Call it after LoadEnvFiles so the
// defaults see the loaded environment.
func (s *Settings) RegisterFlags(flags *flag.FlagSet) {
	flags.StringVar(&s.Listen, "listen", getEnv("DEPOT_LISTEN", ":8080"), "HTTP listen address")
	flags.StringVar(&s.LogLevel, "log-level", getEnv("DEPOT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&s.Backend, "backend", getEnv("DEPOT_BACKEND", storage.BackendLocal), "object store backend (local, minio, gcs)")
	flags.StringVar(&s.DataDir, "data-dir", getEnv("DEPOT_DATA_DIR", "./data"), "directory for the local backend")
	flags.StringVar(&s.Container, "container", getEnv("DEPOT_CONTAINER", "depot"), "container (bucket) holding the files")

	flags.StringVar(&s.MinioEndpoint, "minio-endpoint", getEnv("DEPOT_MINIO_ENDPOINT", ""), "S3-compatible endpoint, host:port")
	flags.StringVar(&s.MinioAccessKey, "minio-access-key", getEnv("DEPOT_MINIO_ACCESS_KEY", ""), "S3 access key")
	flags.StringVar(&s.MinioSecretKey, "minio-secret-key", getEnv("DEPOT_MINIO_SECRET_KEY", ""), "S3 secret key")
	flags.StringVar(&s.MinioRegion, "minio-region", getEnv("DEPOT_MINIO_REGION", ""), "S3 region")
	flags.BoolVar(&s.MinioUseSSL, "minio-ssl", getEnvBool("DEPOT_MINIO_USE_SSL", false), "use TLS for the S3 endpoint")

	flags.StringVar(&s.GCSProject, "gcs-project", getEnv("DEPOT_GCS_PROJECT", ""), "GCP project used to create the bucket")

	flags.IntVar(&s.JPEGQuality, "jpeg-quality", getEnvInt("DEPOT_JPEG_QUALITY", thumbnail.DefaultQuality), "thumbnail JPEG quality (1-100)")
	flags.IntVar(&s.MaxDimension, "max-dimension", getEnvInt("DEPOT_MAX_DIMENSION", depot.DefaultMaxDimension), "largest accepted thumbnail width or height")
	flags.IntVar(&s.KnownKeyCacheSize, "known-key-cache", getEnvInt("DEPOT_KNOWN_KEY_CACHE", 4096), "rendered thumbnail keys remembered in memory, 0 to disable")
	flags.Int64Var(&s.MaxUploadBytes, "max-upload-bytes", int64(getEnvInt("DEPOT_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)), "largest accepted upload request")

	flags.StringVar(&s.AuthAccessKey, "auth-access-key", getEnv("DEPOT_AUTH_ACCESS_KEY", ""), "basic auth user; empty disables basic auth")
	flags.StringVar(&s.AuthSecretKey, "auth-secret-key", getEnv("DEPOT_AUTH_SECRET_KEY", ""), "basic auth password")
	flags.StringVar(&s.AuthTokens, "auth-tokens", getEnv("DEPOT_AUTH_TOKENS", ""), "comma separated bearer tokens")
}

// StorageConfig returns the object store settings.
func (s *Settings) StorageConfig() storage.Config {
	return storage.Config{
		Backend: s.Backend,
		DataDir: s.DataDir,
		Minio: storage.MinioConfig{
			Endpoint:  s.MinioEndpoint,
			AccessKey: s.MinioAccessKey,
			SecretKey: s.MinioSecretKey,
			Region:    s.MinioRegion,
			UseSSL:    s.MinioUseSSL,
		},
		GCSProject: s.GCSProject,
	}
}

// Authenticator returns the configured auth engine, or nil when no
// credentials are set.
func (s *Settings) Authenticator() (auth.AuthEngine, error) {
	var engines []auth.AuthEngine

	if s.AuthAccessKey != "" || s.AuthSecretKey != "" {
		if s.AuthAccessKey == "" || s.AuthSecretKey == "" {
			return nil, errors.New("auth access key and secret key must be set together")
		}
		engines = append(engines, auth.NewBasicAuthEngine(s.AuthAccessKey, s.AuthSecretKey))
	}

	if tokens := auth.NewBearerTokenEngine(strings.Split(s.AuthTokens, ",")...); tokens.Len() > 0 {
		engines = append(engines, tokens)
	}

	if len(engines) == 0 {
		return nil, nil
	}
	return auth.NewCompoundAuthEngine(engines...), nil
}

// Depot is an opened store together with its thumbnail cache.
type Depot struct {
	Store      *depot.Store
	Thumbnails *depot.Thumbnails
	Metrics    *depot.Metrics

	closer io.Closer
}

// Close releases the object store client.
func (d *Depot) Close() error {
	return d.closer.Close()
}

// OpenDepot connects to the configured object store. Thumbnail metrics are
// registered with reg when it is non-nil.
func (s *Settings) OpenDepot(ctx context.Context, reg prometheus.Registerer) (*Depot, error) {
	client, closer, err := storage.Open(ctx, s.StorageConfig())
	if err != nil {
		return nil, err
	}

	store := depot.NewStore(client, s.Container)
	metrics := depot.NewMetrics(reg)

	thumbnails, err := depot.NewThumbnails(store, thumbnail.New(s.JPEGQuality),
		depot.WithMaxDimension(s.MaxDimension),
		depot.WithKnownKeyCache(s.KnownKeyCacheSize),
		depot.WithMetrics(metrics),
	)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	slog.Info("Opened object store", "backend", s.Backend, "container", s.Container)
	return &Depot{Store: store, Thumbnails: thumbnails, Metrics: metrics, closer: closer}, nil
}

// SetupLogging installs a charmbracelet/log handler as the default slog
// logger.
func SetupLogging(w io.Writer, level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment variable", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment variable", "key", key, "value", v)
		return fallback
	}
	return b
}
