package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies the contents of srcPath into a new file at destPath.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = destFile.ReadFrom(srcFile)
	return err
}

// CopyOrLinkFile attempts to create a hard link from srcPath to destPath.
// If that fails, it falls back to copying the file contents.
func CopyOrLinkFile(srcPath string, destPath string) error {

	if srcPath == destPath {
		return nil
	}

	// Linking over an existing destination would truncate whatever it is
	// linked to, so the old entry is removed first to break the link.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	return CopyFile(srcPath, destPath)
}

// MoveFile renames srcPath to destPath, copying across filesystems when a
// rename is not possible.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if copyErr := CopyOrLinkFile(srcPath, destPath); copyErr != nil {
		return copyErr
	}

	// Best-effort cleanup of the source file; ignore ENOENT in case it was
	// already removed.
	if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return nil
}

// SpoolToTemp copies r into a new file under dir while hashing it. It
// returns the temp file path, the SHA-256 hex digest and the byte count. The
// caller owns the returned file.
func SpoolToTemp(dir string, r io.Reader) (string, string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("create temp dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", "", 0, fmt.Errorf("spool payload: %w", err)
	}

	return f.Name(), hex.EncodeToString(h.Sum(nil)), n, nil
}

// ObjectPath computes the full filesystem path for the payload identified by
// hashHex within the given container.
func ObjectPath(directory string, container string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	subdir := hashHex[:2]
	return filepath.Join(directory, container, subdir, hashHex), nil
}

// LocateExistingObject finds payloads with the same hash and size stored in
// any container, excluding targetObject itself.
func LocateExistingObject(directory string, targetObject string, hashHex string, size int64) []string {
	subdir := hashHex[:2]
	pattern := filepath.Join(directory, "*", subdir, hashHex)
	matches, _ := filepath.Glob(pattern)

	results := make([]string, 0)
	for _, existing := range matches {
		if existing == targetObject {
			continue
		}

		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		if info.Size() != size {
			continue
		}

		results = append(results, existing)
	}

	return results
}
