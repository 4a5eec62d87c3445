//go:build integration

package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/storage"
)

func TestStoreReadsSchemaObjectFromMinIO(t *testing.T) {
	endpoint := envOr("QUERYPILOT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("QUERYPILOT_TEST_S3_ENDPOINT is not set")
	}
	key := envOr("QUERYPILOT_TEST_S3_SCHEMA_KEY", "")
	if key == "" {
		t.Skip("QUERYPILOT_TEST_S3_SCHEMA_KEY is not set")
	}

	store, err := New(Config{
		Endpoint:        endpoint,
		Region:          envOr("QUERYPILOT_TEST_S3_REGION", "us-east-1"),
		Bucket:          envOr("QUERYPILOT_TEST_S3_BUCKET", "querypilot-it"),
		AccessKeyID:     envOr("QUERYPILOT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey: envOr("QUERYPILOT_TEST_S3_SECRET_KEY", "miniostorage"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(strings.ToUpper(string(body)), "CREATE TABLE") {
		t.Fatalf("schema object has no table definitions: %q", string(body))
	}

	if _, err := store.Stat(ctx, key+".missing"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat(missing) error = %v", err)
	}

	objects, err := store.List(ctx, path.Dir(key)+"/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, object := range objects {
		found = found || object.Key == key
	}
	if !found {
		t.Fatalf("List() = %#v, want %q", objects, key)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
