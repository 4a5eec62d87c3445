// Package schemasource resolves where schema DDL text is read from.
package schemasource

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/querypilot/querypilot/internal/schemaindex"
	"github.com/querypilot/querypilot/internal/storage"
)

type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Describe() string
}

// File reads DDL from the local filesystem. A positive MaxBytes rejects
// larger files before they are opened.
type File struct {
	Path     string
	MaxBytes int64
}

func (f File) Open(_ context.Context) (io.ReadCloser, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, fmt.Errorf("schema path is required")
	}
	if f.MaxBytes > 0 {
		info, err := os.Stat(f.Path)
		if err != nil {
			return nil, fmt.Errorf("stat schema file %q: %w", f.Path, err)
		}
		if err := checkSize(f.Path, info.Size(), f.MaxBytes); err != nil {
			return nil, err
		}
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open schema file %q: %w", f.Path, err)
	}
	return file, nil
}

func (f File) Describe() string {
	return "file:" + f.Path
}

// Object reads DDL from an object store key. A positive MaxBytes rejects
// larger objects using their metadata, without downloading them.
type Object struct {
	Store    storage.ObjectStore
	Key      string
	MaxBytes int64
}

func (o Object) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(o.Key) == "" {
		return nil, fmt.Errorf("schema object key is required")
	}
	if o.MaxBytes > 0 {
		info, err := o.Store.Stat(ctx, o.Key)
		if err != nil {
			return nil, fmt.Errorf("stat schema object %q: %w", o.Key, err)
		}
		if err := checkSize(o.Key, info.Size, o.MaxBytes); err != nil {
			return nil, err
		}
	}
	reader, err := o.Store.Get(ctx, o.Key)
	if err != nil {
		return nil, fmt.Errorf("get schema object %q: %w", o.Key, err)
	}
	return reader, nil
}

func (o Object) Describe() string {
	return "object:" + o.Key
}

// Text serves an in-memory schema.
type Text string

func (t Text) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(t))), nil
}

func (t Text) Describe() string {
	return "inline"
}

type Config struct {
	Path      string
	ObjectKey string
	MaxBytes  int64
	Store     storage.ObjectStore
}

// Resolve picks the object key when an object store is configured, then the
// local path. It returns nil when neither is set.
func Resolve(cfg Config) Source {
	if key := strings.TrimSpace(cfg.ObjectKey); cfg.Store != nil && key != "" {
		return Object{Store: cfg.Store, Key: key, MaxBytes: cfg.MaxBytes}
	}
	if path := strings.TrimSpace(cfg.Path); path != "" {
		return File{Path: path, MaxBytes: cfg.MaxBytes}
	}
	return nil
}

func checkSize(name string, size, limit int64) error {
	if size > limit {
		return fmt.Errorf("%q is %d bytes, limit %d: %w", name, size, limit, schemaindex.ErrSchemaTooLarge)
	}
	return nil
}
