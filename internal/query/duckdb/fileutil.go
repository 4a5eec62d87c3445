package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/storage"
)

// resolveFiles expands table entries whose object path ends in "/" into every
// Parquet object under that prefix.
func (e *Engine) resolveFiles(ctx context.Context, files []query.TableFile) ([]query.TableFile, error) {
	resolved := make([]query.TableFile, 0, len(files))
	for _, file := range files {
		if !storage.IsPrefix(file.ObjectPath) {
			resolved = append(resolved, file)
			continue
		}
		objects, err := e.store.List(ctx, file.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("list parquet objects for table %q: %w", file.TableName, err)
		}
		matched := 0
		for _, object := range objects {
			if !strings.HasSuffix(strings.ToLower(object.Key), ".parquet") {
				continue
			}
			resolved = append(resolved, query.TableFile{TableName: file.TableName, ObjectPath: object.Key})
			matched++
		}
		if matched == 0 {
			return nil, fmt.Errorf("no parquet objects under %q for table %q", file.ObjectPath, file.TableName)
		}
	}
	return resolved, nil
}

// download copies one Parquet object into localPath and returns the number of
// bytes written.
func (e *Engine) download(ctx context.Context, objectPath, localPath string) (int64, error) {
	reader, err := e.store.Get(ctx, objectPath)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", objectPath, err)
	}
	written, err := copyToFile(localPath, reader)
	if err != nil {
		_ = reader.Close()
		return 0, fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return 0, fmt.Errorf("close object %q: %w", objectPath, err)
	}
	return written, nil
}

func copyToFile(path string, reader io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, reader)
	if err != nil {
		_ = file.Close()
		return written, err
	}
	return written, file.Close()
}
