// Package handler provides the HTTP front end that dispatches /api/<task>
// requests to the gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/broccoli-gateway/internal/gateway"
)

// Invoker is the slice of the gateway the router needs.
type Invoker interface {
	Invoke(ctx context.Context, fqn string, args []any, kwargs map[string]any) (any, error)
}

// Router handles HTTP routing for the task API.
type Router struct {
	gateway Invoker
	logger  zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Gateway Invoker
	Logger  zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		gateway: config.Gateway,
		logger:  config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(rt.requestLogger)

	r.Get("/health", rt.handleHealth)
	r.HandleFunc("/api/*", rt.handleTask)

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// handleTask dispatches /api/<section>/<Action> to the gateway. Query
// parameters with empty values become positional args; the rest become
// kwargs ("?widget&priority=2" is args=["widget"], kwargs={"priority":"2"}).
// Positional args bind to task parameters by position, so the raw query is
// walked left to right instead of going through the unordered Query() map.
func (rt *Router) handleTask(w http.ResponseWriter, r *http.Request) {
	task := strings.Trim(chi.URLParam(r, "*"), "/")
	fqn := strings.ReplaceAll(task, "/", ".")

	args, kwargs := splitQuery(r.URL.RawQuery)

	rt.logger.Info().
		Str("task", fqn).
		Int("args", len(args)).
		Int("kwargs", len(kwargs)).
		Msg("dispatching task")

	result, err := rt.gateway.Invoke(r.Context(), fqn, args, kwargs)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gateway.ErrNotSupported) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// splitQuery walks a raw query string in order: parameters without a value
// become positional args, the rest become kwargs, with repeated names
// collected into a list.
func splitQuery(rawQuery string) ([]any, map[string]any) {
	var args []any
	kwargs := map[string]any{}

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawName, rawValue, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			name = rawName
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			value = rawValue
		}

		if value == "" {
			args = append(args, name)
			continue
		}
		switch existing := kwargs[name].(type) {
		case nil:
			kwargs[name] = value
		case []any:
			kwargs[name] = append(existing, value)
		default:
			kwargs[name] = []any{existing, value}
		}
	}

	return args, kwargs
}

// requestLogger attaches a correlation id and logs each request.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		rt.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}
