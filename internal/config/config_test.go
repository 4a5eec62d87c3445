package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Schema.TopK != 3 {
		t.Fatalf("Schema.TopK = %d", cfg.Schema.TopK)
	}
	if cfg.Schema.MaxBytes != 8<<20 {
		t.Fatalf("Schema.MaxBytes = %d", cfg.Schema.MaxBytes)
	}
	if cfg.Warehouse.Engine != EngineDuckDB {
		t.Fatalf("Warehouse.Engine = %q", cfg.Warehouse.Engine)
	}
	if cfg.Warehouse.RowLimit != 1000 {
		t.Fatalf("Warehouse.RowLimit = %d", cfg.Warehouse.RowLimit)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.AI.TranslateEnabled {
		t.Fatal("AI.TranslateEnabled should default to false")
	}
	if cfg.AI.Model != "gpt-3.5-turbo" || cfg.AI.Temperature != 0.2 || cfg.AI.MaxTokens != 500 {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Dialect != "DuckDB" {
		t.Fatalf("AI.Dialect = %q", cfg.AI.Dialect)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{"QUERYPILOT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.Warehouse.RowLimit != 500 {
		t.Fatalf("Warehouse.RowLimit = %d", cfg.Warehouse.RowLimit)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYPILOT_PROFILE":                     "test",
		"QUERYPILOT_SERVICE_NAME":                "querypilot-custom",
		"QUERYPILOT_HTTP_ADDR":                   ":9999",
		"QUERYPILOT_HTTP_READ_TIMEOUT":           "2s",
		"QUERYPILOT_HTTP_WRITE_TIMEOUT":          "3s",
		"QUERYPILOT_LOG_LEVEL":                   "error",
		"QUERYPILOT_AUTH_REQUIRED":               "true",
		"QUERYPILOT_AUTH_STATIC_KEYS":            "k1:analyst:query_reader",
		"QUERYPILOT_SCHEMA_PATH":                 "/etc/querypilot/schema.sql",
		"QUERYPILOT_SCHEMA_OBJECT_KEY":           "schemas/shop.sql",
		"QUERYPILOT_SCHEMA_TOP_K":                "5",
		"QUERYPILOT_SCHEMA_MAX_BYTES":            "1048576",
		"QUERYPILOT_WAREHOUSE_ENGINE":            "Postgres",
		"QUERYPILOT_WAREHOUSE_POSTGRES_DSN":      "postgres://example",
		"QUERYPILOT_WAREHOUSE_MAX_OPEN_CONNS":    "42",
		"QUERYPILOT_WAREHOUSE_MAX_IDLE_CONNS":    "17",
		"QUERYPILOT_WAREHOUSE_CONN_MAX_LIFETIME": "1h",
		"QUERYPILOT_WAREHOUSE_ROW_LIMIT":         "250",
		"QUERYPILOT_WAREHOUSE_STATEMENT_TIMEOUT": "9s",
		"QUERYPILOT_OBJECTSTORE_ENABLED":         "true",
		"QUERYPILOT_OBJECTSTORE_ENDPOINT":        "s3.example.com",
		"QUERYPILOT_OBJECTSTORE_BUCKET":          "querypilot-prod",
		"QUERYPILOT_OBJECTSTORE_REGION":          "us-west-2",
		"QUERYPILOT_OBJECTSTORE_ACCESS_KEY":      "abc",
		"QUERYPILOT_OBJECTSTORE_SECRET_KEY":      "def",
		"QUERYPILOT_OBJECTSTORE_USE_SSL":         "true",
		"QUERYPILOT_OBJECTSTORE_PREFIX":          "tenant-root",
		"QUERYPILOT_AI_TRANSLATE_ENABLED":        "true",
		"QUERYPILOT_AI_BASE_URL":                 "https://api.example.com",
		"QUERYPILOT_AI_API_KEY":                  "secret-key",
		"QUERYPILOT_AI_MODEL":                    "gpt-4o-mini",
		"QUERYPILOT_AI_TEMPERATURE":              "0.3",
		"QUERYPILOT_AI_MAX_TOKENS":               "800",
		"QUERYPILOT_AI_TIMEOUT":                  "21s",
	})
	cfg, err := Load("querypilot-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querypilot-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %#v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:analyst:query_reader" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
	if cfg.Schema.Path != "/etc/querypilot/schema.sql" || cfg.Schema.ObjectKey != "schemas/shop.sql" {
		t.Fatalf("Schema = %#v", cfg.Schema)
	}
	if cfg.Schema.TopK != 5 || cfg.Schema.MaxBytes != 1<<20 {
		t.Fatalf("Schema = %#v", cfg.Schema)
	}
	if cfg.Warehouse.Engine != EnginePostgres {
		t.Fatalf("Warehouse.Engine = %q", cfg.Warehouse.Engine)
	}
	if cfg.Warehouse.PostgresDSN != "postgres://example" {
		t.Fatalf("Warehouse.PostgresDSN = %q", cfg.Warehouse.PostgresDSN)
	}
	if cfg.Warehouse.MaxOpenConns != 42 || cfg.Warehouse.MaxIdleConns != 17 || cfg.Warehouse.ConnMaxLifetime != time.Hour {
		t.Fatalf("Warehouse pool = %#v", cfg.Warehouse)
	}
	if cfg.Warehouse.RowLimit != 250 || cfg.Warehouse.StatementTimeout != 9*time.Second {
		t.Fatalf("Warehouse limits = %#v", cfg.Warehouse)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "querypilot-prod" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.Prefix != "tenant-root" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if !cfg.AI.TranslateEnabled {
		t.Fatal("AI.TranslateEnabled = false, want true")
	}
	if cfg.AI.BaseURL != "https://api.example.com" || cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.MaxTokens != 800 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Dialect != "PostgreSQL" {
		t.Fatalf("AI.Dialect = %q", cfg.AI.Dialect)
	}
}

func TestLoadKeepsExplicitDialect(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{"QUERYPILOT_AI_DIALECT": "SQLite"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.Dialect != "SQLite" {
		t.Fatalf("AI.Dialect = %q", cfg.AI.Dialect)
	}
}

func TestLoadSQLiteEngine(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{
		"QUERYPILOT_WAREHOUSE_ENGINE":      "SQLite",
		"QUERYPILOT_WAREHOUSE_SQLITE_PATH": "/data/shop.db",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Warehouse.Engine != EngineSQLite || cfg.Warehouse.SQLitePath != "/data/shop.db" {
		t.Fatalf("Warehouse = %#v", cfg.Warehouse)
	}
	if cfg.AI.Dialect != "SQLite" {
		t.Fatalf("AI.Dialect = %q", cfg.AI.Dialect)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "profile", env: map[string]string{"QUERYPILOT_PROFILE": "oops"}, wantErr: "QUERYPILOT_PROFILE"},
		{name: "duration", env: map[string]string{"QUERYPILOT_HTTP_READ_TIMEOUT": "NaN"}, wantErr: "QUERYPILOT_HTTP_READ_TIMEOUT"},
		{name: "int", env: map[string]string{"QUERYPILOT_WAREHOUSE_MAX_OPEN_CONNS": "oops"}, wantErr: "QUERYPILOT_WAREHOUSE_MAX_OPEN_CONNS"},
		{name: "int64", env: map[string]string{"QUERYPILOT_SCHEMA_MAX_BYTES": "lots"}, wantErr: "QUERYPILOT_SCHEMA_MAX_BYTES"},
		{name: "float", env: map[string]string{"QUERYPILOT_AI_TEMPERATURE": "bad"}, wantErr: "QUERYPILOT_AI_TEMPERATURE"},
		{name: "bool", env: map[string]string{"QUERYPILOT_AUTH_REQUIRED": "not-bool"}, wantErr: "QUERYPILOT_AUTH_REQUIRED"},
		{name: "log level", env: map[string]string{"QUERYPILOT_LOG_LEVEL": "verbose"}, wantErr: "QUERYPILOT_LOG_LEVEL"},
		{name: "top k", env: map[string]string{"QUERYPILOT_SCHEMA_TOP_K": "0"}, wantErr: "QUERYPILOT_SCHEMA_TOP_K"},
		{name: "max bytes", env: map[string]string{"QUERYPILOT_SCHEMA_MAX_BYTES": "0"}, wantErr: "QUERYPILOT_SCHEMA_MAX_BYTES"},
		{name: "row limit", env: map[string]string{"QUERYPILOT_WAREHOUSE_ROW_LIMIT": "-1"}, wantErr: "QUERYPILOT_WAREHOUSE_ROW_LIMIT"},
		{name: "engine", env: map[string]string{"QUERYPILOT_WAREHOUSE_ENGINE": "oracle"}, wantErr: "QUERYPILOT_WAREHOUSE_ENGINE"},
		{name: "postgres dsn", env: map[string]string{"QUERYPILOT_WAREHOUSE_ENGINE": "postgres"}, wantErr: "QUERYPILOT_WAREHOUSE_POSTGRES_DSN"},
		{name: "sqlite path", env: map[string]string{"QUERYPILOT_WAREHOUSE_ENGINE": "sqlite"}, wantErr: "QUERYPILOT_WAREHOUSE_SQLITE_PATH"},
		{name: "parquet without store", env: map[string]string{"QUERYPILOT_WAREHOUSE_PARQUET_TABLES": "events=lake/events.parquet"}, wantErr: "QUERYPILOT_OBJECTSTORE_ENABLED"},
		{name: "empty address", env: map[string]string{"QUERYPILOT_HTTP_ADDR": " "}, wantErr: "http address"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("querypilot-api", mapLookup(tc.env))
			if err == nil {
				t.Fatalf("Load() expected error for env %#v", tc.env)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("querypilot-api", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
