package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by ObjectStore.Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the optional remote tier. It is a durability backstop only,
// never a lock or coherence mechanism.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// URL returns a stable, human-readable address for a key.
	URL(key string) string
}
