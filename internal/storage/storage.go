// Package storage describes the read-only object store used for schema files
// and Parquet tables.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under prefix ordered by key. Keys are
	// relative to the store, the same form Get accepts.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// IsPrefix reports whether key names a directory-like prefix rather than a
// single object.
func IsPrefix(key string) bool {
	return strings.HasSuffix(strings.TrimSpace(key), "/")
}
