package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/copilot"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schemasource"
)

const defaultMaxBodyBytes = 8<<20 + 64<<10

type ReadinessCheck func(ctx context.Context) error

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Copilot           *copilot.Service
	// SchemaSource backs POST /v1/schema/reload.
	SchemaSource schemasource.Source
	MaxBodyBytes int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	var protect func(http.Handler) http.Handler
	switch {
	case !cfg.Auth.Required:
		protect = anonymousIdentity
	case deps.AuthMiddleware == nil:
		if deps.Logger != nil {
			deps.Logger.Error("auth required but auth middleware missing")
		}
		protect = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		}
	default:
		protect = deps.AuthMiddleware
	}

	routes := []struct {
		pattern string
		role    string
		handler func(Dependencies, http.ResponseWriter, *http.Request)
	}{
		{"GET /v1/schema", auth.RoleQueryReader, handleGetSchema},
		{"PUT /v1/schema", auth.RoleSchemaAdmin, handlePutSchema},
		{"DELETE /v1/schema", auth.RoleSchemaAdmin, handleResetSchema},
		{"POST /v1/schema/reload", auth.RoleSchemaAdmin, handleReloadSchema},
		{"POST /v1/schema/retrieve", auth.RoleQueryReader, handleRetrieve},
		{"POST /v1/schema/context", auth.RoleQueryReader, handleSchemaContext},
		{"POST /v1/guard/check", auth.RoleQueryReader, handleGuardCheck},
		{"POST /v1/query/translate", auth.RoleQueryReader, handleTranslate},
		{"POST /v1/query", auth.RoleQueryReader, handleQuery},
		{"POST /v1/ask", auth.RoleQueryReader, handleAsk},
	}
	for _, route := range routes {
		handle := route.handler
		var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Copilot == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "COPILOT_NOT_CONFIGURED", "query copilot is not configured", false, nil)
				return
			}
			handle(deps, w, r)
		})
		mux.Handle(route.pattern, protect(auth.RequireRole(route.role, handler)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func anonymousIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), auth.Anonymous)))
	})
}

// CheckHealth adapts a dependency health probe into a readiness check.
func CheckHealth(name string, checker HealthChecker) ReadinessCheck {
	if checker == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s is not ready: %w", name, err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(deps Dependencies, w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := deps.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body is too large", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return false
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
