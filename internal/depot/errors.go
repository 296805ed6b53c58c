package depot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Store.Get when no object exists under the id.
	ErrNotFound = errors.New("file not found")

	// ErrSourceNotFound is returned by Thumbnails.Get when the source object
	// of a thumbnail request does not exist.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrStoreUnavailable wraps any failure reported by the object store.
	ErrStoreUnavailable = errors.New("object store unavailable")

	// ErrInvalidDimensions is returned for thumbnail dimensions outside
	// 1..MaxDimension.
	ErrInvalidDimensions = errors.New("invalid thumbnail dimensions")
)

// unavailable tags err as a store failure while keeping it reachable
// through errors.Is and errors.As.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
