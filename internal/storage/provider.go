// Package storage defines the blob store abstraction used for checkpoints
// and crawl results. Implementations live in the local, gcs and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject when no object exists at path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes and reads whole objects by path.
type BlobStore interface {
	// PutObject replaces the object at path and returns its URI. Readers
	// never observe a partially written object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject returns the full object at path, or ErrObjectNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}
