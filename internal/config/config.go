package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	EngineDuckDB   = "duckdb"
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Schema        SchemaConfig
	Warehouse     WarehouseConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type SchemaConfig struct {
	// Path is a local DDL file loaded at startup and on reload.
	Path string
	// ObjectKey takes precedence over Path when the object store is enabled.
	ObjectKey string
	TopK      int
	MaxBytes  int64
}

type WarehouseConfig struct {
	Engine string
	// DuckDBPath is attached read-only. Empty means an in-memory database.
	DuckDBPath string
	// ParquetTables is "table=objectKey,..." registered as DuckDB views.
	ParquetTables    string
	PostgresDSN      string
	SQLitePath       string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
	RowLimit         int
	StatementTimeout time.Duration
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	TranslateEnabled bool
	BaseURL          string
	APIKey           string
	Model            string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	// Dialect names the SQL dialect in the prompt. Empty follows the engine.
	Dialect string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	for _, binding := range envBindings(&cfg) {
		raw, ok := lookup(binding.key)
		if !ok {
			continue
		}
		if err := binding.set(strings.TrimSpace(raw)); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", binding.key, err)
		}
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if cfg.Schema.TopK <= 0 {
		return fmt.Errorf("QUERYPILOT_SCHEMA_TOP_K must be positive")
	}
	if cfg.Schema.MaxBytes <= 0 {
		return fmt.Errorf("QUERYPILOT_SCHEMA_MAX_BYTES must be positive")
	}
	if cfg.Warehouse.RowLimit < 0 {
		return fmt.Errorf("QUERYPILOT_WAREHOUSE_ROW_LIMIT must not be negative")
	}

	cfg.Warehouse.Engine = strings.ToLower(cfg.Warehouse.Engine)
	switch cfg.Warehouse.Engine {
	case EngineDuckDB:
		if cfg.Warehouse.ParquetTables != "" && !cfg.ObjectStore.Enabled {
			return fmt.Errorf("QUERYPILOT_WAREHOUSE_PARQUET_TABLES requires QUERYPILOT_OBJECTSTORE_ENABLED")
		}
	case EnginePostgres:
		if cfg.Warehouse.PostgresDSN == "" {
			return fmt.Errorf("QUERYPILOT_WAREHOUSE_POSTGRES_DSN is required for the postgres engine")
		}
	case EngineSQLite:
		if cfg.Warehouse.SQLitePath == "" {
			return fmt.Errorf("QUERYPILOT_WAREHOUSE_SQLITE_PATH is required for the sqlite engine")
		}
	default:
		return fmt.Errorf("invalid QUERYPILOT_WAREHOUSE_ENGINE: %q", cfg.Warehouse.Engine)
	}

	if cfg.AI.Dialect == "" {
		cfg.AI.Dialect = dialectForEngine(cfg.Warehouse.Engine)
	}
	return nil
}

func dialectForEngine(engine string) string {
	switch engine {
	case EnginePostgres:
		return "PostgreSQL"
	case EngineSQLite:
		return "SQLite"
	default:
		return "DuckDB"
	}
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querypilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Schema: SchemaConfig{
			TopK:     3,
			MaxBytes: 8 << 20,
		},
		Warehouse: WarehouseConfig{
			Engine:           EngineDuckDB,
			MaxOpenConns:     10,
			MaxIdleConns:     10,
			ConnMaxIdleTime:  5 * time.Minute,
			ConnMaxLifetime:  30 * time.Minute,
			RowLimit:         1000,
			StatementTimeout: 30 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "querypilot",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "",
		},
		AI: AIConfig{
			TranslateEnabled: false,
			BaseURL:          "https://api.openai.com",
			Model:            "gpt-3.5-turbo",
			Temperature:      0.2,
			MaxTokens:        500,
			Timeout:          30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.Warehouse.RowLimit = 500
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// envBinding maps one QUERYPILOT_* variable onto a config field. set
// receives the trimmed value.
type envBinding struct {
	key string
	set func(raw string) error
}

func envBindings(cfg *Config) []envBinding {
	return []envBinding{
		{"QUERYPILOT_SERVICE_NAME", stringVar(&cfg.Service.Name)},
		{"QUERYPILOT_HTTP_ADDR", stringVar(&cfg.HTTP.Address)},
		{"QUERYPILOT_HTTP_READ_TIMEOUT", durationVar(&cfg.HTTP.ReadTimeout)},
		{"QUERYPILOT_HTTP_WRITE_TIMEOUT", durationVar(&cfg.HTTP.WriteTimeout)},
		{"QUERYPILOT_HTTP_IDLE_TIMEOUT", durationVar(&cfg.HTTP.IdleTimeout)},
		{"QUERYPILOT_SCHEMA_PATH", stringVar(&cfg.Schema.Path)},
		{"QUERYPILOT_SCHEMA_OBJECT_KEY", stringVar(&cfg.Schema.ObjectKey)},
		{"QUERYPILOT_SCHEMA_TOP_K", intVar(&cfg.Schema.TopK)},
		{"QUERYPILOT_SCHEMA_MAX_BYTES", int64Var(&cfg.Schema.MaxBytes)},
		{"QUERYPILOT_WAREHOUSE_ENGINE", stringVar(&cfg.Warehouse.Engine)},
		{"QUERYPILOT_WAREHOUSE_DUCKDB_PATH", stringVar(&cfg.Warehouse.DuckDBPath)},
		{"QUERYPILOT_WAREHOUSE_PARQUET_TABLES", stringVar(&cfg.Warehouse.ParquetTables)},
		{"QUERYPILOT_WAREHOUSE_POSTGRES_DSN", stringVar(&cfg.Warehouse.PostgresDSN)},
		{"QUERYPILOT_WAREHOUSE_SQLITE_PATH", stringVar(&cfg.Warehouse.SQLitePath)},
		{"QUERYPILOT_WAREHOUSE_MAX_OPEN_CONNS", intVar(&cfg.Warehouse.MaxOpenConns)},
		{"QUERYPILOT_WAREHOUSE_MAX_IDLE_CONNS", intVar(&cfg.Warehouse.MaxIdleConns)},
		{"QUERYPILOT_WAREHOUSE_CONN_MAX_IDLE_TIME", durationVar(&cfg.Warehouse.ConnMaxIdleTime)},
		{"QUERYPILOT_WAREHOUSE_CONN_MAX_LIFETIME", durationVar(&cfg.Warehouse.ConnMaxLifetime)},
		{"QUERYPILOT_WAREHOUSE_ROW_LIMIT", intVar(&cfg.Warehouse.RowLimit)},
		{"QUERYPILOT_WAREHOUSE_STATEMENT_TIMEOUT", durationVar(&cfg.Warehouse.StatementTimeout)},
		{"QUERYPILOT_OBJECTSTORE_ENABLED", boolVar(&cfg.ObjectStore.Enabled)},
		{"QUERYPILOT_OBJECTSTORE_ENDPOINT", stringVar(&cfg.ObjectStore.Endpoint)},
		{"QUERYPILOT_OBJECTSTORE_REGION", stringVar(&cfg.ObjectStore.Region)},
		{"QUERYPILOT_OBJECTSTORE_BUCKET", stringVar(&cfg.ObjectStore.Bucket)},
		{"QUERYPILOT_OBJECTSTORE_ACCESS_KEY", stringVar(&cfg.ObjectStore.AccessKeyID)},
		{"QUERYPILOT_OBJECTSTORE_SECRET_KEY", stringVar(&cfg.ObjectStore.SecretAccessKey)},
		{"QUERYPILOT_OBJECTSTORE_USE_SSL", boolVar(&cfg.ObjectStore.UseSSL)},
		{"QUERYPILOT_OBJECTSTORE_PREFIX", stringVar(&cfg.ObjectStore.Prefix)},
		{"QUERYPILOT_AI_TRANSLATE_ENABLED", boolVar(&cfg.AI.TranslateEnabled)},
		{"QUERYPILOT_AI_BASE_URL", stringVar(&cfg.AI.BaseURL)},
		{"QUERYPILOT_AI_API_KEY", stringVar(&cfg.AI.APIKey)},
		{"QUERYPILOT_AI_MODEL", stringVar(&cfg.AI.Model)},
		{"QUERYPILOT_AI_TEMPERATURE", floatVar(&cfg.AI.Temperature)},
		{"QUERYPILOT_AI_MAX_TOKENS", intVar(&cfg.AI.MaxTokens)},
		{"QUERYPILOT_AI_TIMEOUT", durationVar(&cfg.AI.Timeout)},
		{"QUERYPILOT_AI_DIALECT", stringVar(&cfg.AI.Dialect)},
		{"QUERYPILOT_LOG_JSON", boolVar(&cfg.Observability.LogJSON)},
		{"QUERYPILOT_LOG_LEVEL", logLevelVar(&cfg.Observability.LogLevel)},
		{"QUERYPILOT_AUTH_REQUIRED", boolVar(&cfg.Auth.Required)},
		{"QUERYPILOT_AUTH_STATIC_KEYS", stringVar(&cfg.Auth.StaticKeys)},
	}
}

func stringVar(dst *string) func(string) error {
	return func(raw string) error {
		*dst = raw
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(raw string) (err error) {
		*dst, err = time.ParseDuration(raw)
		return err
	}
}

func boolVar(dst *bool) func(string) error {
	return func(raw string) (err error) {
		*dst, err = strconv.ParseBool(raw)
		return err
	}
}

func intVar(dst *int) func(string) error {
	return func(raw string) (err error) {
		*dst, err = strconv.Atoi(raw)
		return err
	}
}

func int64Var(dst *int64) func(string) error {
	return func(raw string) (err error) {
		*dst, err = strconv.ParseInt(raw, 10, 64)
		return err
	}
}

func floatVar(dst *float64) func(string) error {
	return func(raw string) (err error) {
		*dst, err = strconv.ParseFloat(raw, 64)
		return err
	}
}

func logLevelVar(dst *slog.Level) func(string) error {
	return func(raw string) error {
		switch strings.ToLower(raw) {
		case "debug":
			*dst = slog.LevelDebug
		case "info":
			*dst = slog.LevelInfo
		case "warn", "warning":
			*dst = slog.LevelWarn
		case "error":
			*dst = slog.LevelError
		default:
			return fmt.Errorf("unknown log level %q", raw)
		}
		return nil
	}
}
