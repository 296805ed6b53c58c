package storage

import (
	"context"
	"fmt"
	"io"
)

// Supported backend names.
const (
	BackendLocal = "local"
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	DataDir    string
	Minio      MinioConfig
	GCSProject string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open constructs the backend named by cfg.Backend. The returned Closer
// releases any resources held by the backend.
func Open(ctx context.Context, cfg Config) (Client, io.Closer, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		s, err := NewLocalFileStorage(ctx, cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendMinio:
		s, err := NewMinioStorage(cfg.Minio)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case BackendGCS:
		s, err := NewGCSStorage(ctx, cfg.GCSProject)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
