// Package artifacts provides blob storage for build archives and the
// retention sweep that removes archives of unreleased runs.
package artifacts

import (
	"context"
	"errors"
	"io"
)

// Common errors returned by blob storage operations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("artifact object not found")
)

// Storage is the blob backend archives are uploaded to. Keys follow the
// <run-id>/<archive-name> convention.
type Storage interface {
	// Put stores an object. The reader is consumed fully; size must match
	// the number of bytes read.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens an object for reading. The caller must close the reader.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
