package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get for keys that hold nothing.
var ErrNotFound = errors.New("storage: blob not found")

type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error) // returns canonical key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error // deleting a missing key is not an error
	Exists(ctx context.Context, key string) (bool, error)
}
