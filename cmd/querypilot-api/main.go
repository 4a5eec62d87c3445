package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/copilot"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	duckdbengine "github.com/querypilot/querypilot/internal/query/duckdb"
	postgresengine "github.com/querypilot/querypilot/internal/query/postgres"
	sqliteengine "github.com/querypilot/querypilot/internal/query/sqlite"
	"github.com/querypilot/querypilot/internal/schemaindex"
	"github.com/querypilot/querypilot/internal/schemasource"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var objectStore storage.ObjectStore
	var objectStoreHealth api.HealthChecker
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = store
		objectStoreHealth = store
	}

	var queryEngine query.Engine
	var warehouseHealth api.HealthChecker
	switch cfg.Warehouse.Engine {
	case config.EnginePostgres:
		var warehouseDB *sql.DB
		warehouseDB, err = postgresengine.Open(context.Background(), postgresengine.DBConfig{
			DSN:             cfg.Warehouse.PostgresDSN,
			MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
			MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
			ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open warehouse db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = warehouseDB.Close() }()
		engine := postgresengine.NewEngine(warehouseDB, cfg.Warehouse.StatementTimeout)
		queryEngine = engine
		warehouseHealth = engine
	case config.EngineSQLite:
		engine, err := sqliteengine.Open(context.Background(), sqliteengine.Config{
			Path:             cfg.Warehouse.SQLitePath,
			StatementTimeout: cfg.Warehouse.StatementTimeout,
		})
		if err != nil {
			logger.Error("failed to open warehouse db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = engine.Close() }()
		queryEngine = engine
		warehouseHealth = engine
	default:
		tables, err := duckdbengine.ParseTableFiles(cfg.Warehouse.ParquetTables)
		if err != nil {
			logger.Error("failed to parse parquet tables", slog.Any("error", err))
			os.Exit(1)
		}
		queryEngine = duckdbengine.NewEngine(duckdbengine.Config{
			DatabasePath: cfg.Warehouse.DuckDBPath,
			Tables:       tables,
			Store:        objectStore,
		})
	}

	var translator nl2sql.Translator
	if cfg.AI.TranslateEnabled {
		translator, err = nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize query translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	index := schemaindex.New(schemaindex.Config{
		DefaultTopK:    cfg.Schema.TopK,
		MaxSchemaBytes: cfg.Schema.MaxBytes,
	})
	service, err := copilot.New(copilot.Config{
		Index:      index,
		Translator: translator,
		Engine:     queryEngine,
		EngineName: cfg.Warehouse.Engine,
		Dialect:    cfg.AI.Dialect,
		RowLimit:   cfg.Warehouse.RowLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize copilot", slog.Any("error", err))
		os.Exit(1)
	}

	schemaSource := schemasource.Resolve(schemasource.Config{
		Path:      cfg.Schema.Path,
		ObjectKey: cfg.Schema.ObjectKey,
		MaxBytes:  cfg.Schema.MaxBytes,
		Store:     objectStore,
	})
	if schemaSource != nil {
		loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := service.LoadSchema(loadCtx, schemaSource)
		cancel()
		if err != nil {
			logger.Error("failed to load schema", slog.String("source", schemaSource.Describe()), slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("no schema source configured; load one with PUT /v1/schema")
	}

	deps := api.Dependencies{
		Logger:       logger,
		Copilot:      service,
		SchemaSource: schemaSource,
		MaxBodyBytes: cfg.Schema.MaxBytes + 64<<10,
		Readiness: api.CombineReadinessChecks(
			api.CheckObjectStoreConfig(cfg),
			api.CheckHealth("object store", objectStoreHealth),
			api.CheckHealth("warehouse", warehouseHealth),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("engine", cfg.Warehouse.Engine),
			slog.Bool("translate_enabled", translator != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
