package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// LocalFileStorage is a Client that keeps object payloads on the local
// filesystem and object properties in SQLite. Payloads use a
// content-addressed layout rooted at dataDir: each container gets its own
// subdirectory, and within it payloads are addressed by their SHA-256 hash
// with the first two characters used as a subdirectory prefix. Identical
// payloads are hard-linked across containers.
type LocalFileStorage struct {
	dataDir string
	db      *sql.DB

	// serialises payload placement so a concurrent link never observes a
	// half-replaced file.
	placeMu sync.Mutex
}

var _ Client = (*LocalFileStorage)(nil)

// NewLocalFileStorage opens (creating if needed) a local store rooted at
// dataDir.
func NewLocalFileStorage(ctx context.Context, dataDir string) (*LocalFileStorage, error) {
	if dataDir == "" {
		return nil, errors.New("dataDir must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dataDir, "metadata.sqlite") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &LocalFileStorage{dataDir: dataDir, db: db}, nil
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("init schema %s: %w", path, execError)
		}
		return nil
	})
}

// Close closes the metadata database.
func (s *LocalFileStorage) Close() error {
	return s.db.Close()
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func (s *LocalFileStorage) ContainerExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM containers WHERE name = ?`, name).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

func (s *LocalFileStorage) CreateContainer(ctx context.Context, name string) error {
	if !IsValidContainerName(name) {
		return fmt.Errorf("%w: container %q", ErrInvalidName, name)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO containers(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create container %q: %w", name, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create container %q: %w", name, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrContainerExists, name)
	}

	if err := os.MkdirAll(filepath.Join(s.dataDir, name), 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}

	slog.Info("Created container", "container", name)
	return nil
}

func (s *LocalFileStorage) Container(name string) Container {
	return &localContainer{store: s, name: name}
}

// placePayload moves the spooled file at tempPath into the content-addressed
// location for hashHex, reusing an identical payload when one exists.
func (s *LocalFileStorage) placePayload(container, hashHex, tempPath string, size int64) error {
	objPath, err := ObjectPath(s.dataDir, container, hashHex)
	if err != nil {
		return err
	}

	s.placeMu.Lock()
	defer s.placeMu.Unlock()

	if info, err := os.Stat(objPath); err == nil && info.Mode().IsRegular() && info.Size() == size {
		return os.Remove(tempPath)
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	for _, existing := range LocateExistingObject(s.dataDir, objPath, hashHex, size) {
		if err := CopyOrLinkFile(existing, objPath); err == nil {
			return os.Remove(tempPath)
		}
	}

	return MoveFile(tempPath, objPath)
}

type localContainer struct {
	store *LocalFileStorage
	name  string
}

func (c *localContainer) Name() string {
	return c.name
}

func (c *localContainer) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := c.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blobs WHERE container = ? AND key = ?`,
		c.name, key,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c *localContainer) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("%w: key %q", ErrInvalidName, key)
	}

	exists, err := c.store.ContainerExists(ctx, c.name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, c.name)
	}

	tempPath, hashHex, written, err := SpoolToTemp(filepath.Join(c.store.dataDir, ".tmp"), r)
	if err != nil {
		return err
	}
	if size >= 0 && written != size {
		_ = os.Remove(tempPath)
		return fmt.Errorf("upload %q: expected %d bytes, read %d", key, size, written)
	}

	if err := c.store.placePayload(c.name, hashHex, tempPath, written); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("store payload: %w", err)
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	now := time.Now().UTC()
	return WithTransaction(ctx, c.store.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO blobs(container, key, hash, size, content_type, metadata, created_at, updated_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(container, key) DO UPDATE SET
			 	hash=excluded.hash,
			 	size=excluded.size,
			 	content_type=excluded.content_type,
			 	metadata=excluded.metadata,
			 	updated_at=excluded.updated_at`,
			c.name, key, hashHex, written, contentType, string(encoded), now, now,
		)
		return err
	})
}

func (c *localContainer) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var hashHex string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT hash FROM blobs WHERE container = ? AND key = ?`,
		c.name, key,
	).Scan(&hashHex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, c.name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup object %s/%s: %w", c.name, key, err)
	}

	objPath, err := ObjectPath(c.store.dataDir, c.name, hashHex)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object payload missing for %s/%s: %w", c.name, key, err)
		}
		return nil, fmt.Errorf("open object file: %w", err)
	}
	return f, nil
}

func (c *localContainer) Properties(ctx context.Context, key string) (Properties, error) {
	var (
		contentType sql.NullString
		size        int64
		rawMeta     string
		updatedAt   time.Time
	)

	err := c.store.db.QueryRowContext(ctx,
		`SELECT content_type, size, metadata, updated_at FROM blobs WHERE container = ? AND key = ?`,
		c.name, key,
	).Scan(&contentType, &size, &rawMeta, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Properties{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, c.name, key)
	}
	if err != nil {
		return Properties{}, fmt.Errorf("lookup object %s/%s: %w", c.name, key, err)
	}

	metadata := map[string]string{}
	if err := json.Unmarshal([]byte(rawMeta), &metadata); err != nil {
		return Properties{}, fmt.Errorf("decode metadata for %s/%s: %w", c.name, key, err)
	}

	props := Properties{
		ContentType:  "application/octet-stream",
		Size:         size,
		Metadata:     metadata,
		LastModified: updatedAt,
	}
	if contentType.Valid && contentType.String != "" {
		props.ContentType = contentType.String
	}
	return props, nil
}

func (c *localContainer) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := c.store.db.QueryContext(ctx,
			`SELECT key FROM blobs WHERE container = ? ORDER BY key`,
			c.name,
		)
		if err != nil {
			yield("", fmt.Errorf("list container %s: %w", c.name, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				yield("", fmt.Errorf("scan key: %w", err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield("", err)
		}
	}
}
