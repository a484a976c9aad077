// Package storage is the durable key-value layer behind the library: a
// record store for document metadata and a blob store for document bytes.
// A filesystem backend is used locally; Firestore and Cloud Storage back the
// same interfaces when a GCP project is configured.
package storage

import (
	"context"
	"errors"
	"os"
)

var ErrNotFound = errors.New("storage: not found")

// Records stores JSON-shaped values by id.
type Records[T any] interface {
	Put(ctx context.Context, id string, v T) error
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, id string) error
}

// Blobs stores opaque bytes by id.
type Blobs interface {
	PutBlob(ctx context.Context, id string, data []byte) error
	GetBlob(ctx context.Context, id string) ([]byte, error)
	DeleteBlob(ctx context.Context, id string) error
}

// KeyLister is implemented by blob stores that can enumerate their ids.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// GetEnv reads an environment variable or returns fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
