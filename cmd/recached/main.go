// Package main implements recached, a daemon that serves a process-wide
// self-refreshing cache over a read-only HTTP API.
//
// The daemon registers its computation sources at startup and keeps their
// values fresh in the background; clients only ever read. Registration is
// deliberately not exposed over the wire — computations are code, and the
// cache's contract is that readers never drive them.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               recached                  │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health        - Liveness check      │
//	│    /cache/{key}   - Read a cached value │
//	│    /keys          - List present keys   │
//	│    /stats         - Store statistics    │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    recache.Registry - cache core        │
//	│    demo sources     - registered funcs  │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - RECACHED_LISTEN: Listen address (default: ":8080")
//   - RECACHED_TTL_MS: Source ttl in milliseconds (default: 60000)
//   - RECACHED_REFRESH_MS: Source refresh interval in milliseconds (default: 10000)
//
// Example usage:
//
//	# Start the daemon
//	RECACHED_LISTEN=:8080 ./recached
//
//	# Read a value (blocks up to timeout_ms on a cold key)
//	curl 'localhost:8080/cache/time/now?timeout_ms=5000'
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/recache"
	"github.com/dreamware/recache/internal/api"
)

// logFatal is a variable to allow intercepting fatal errors in tests
// without terminating the test process.
var logFatal = func(msg string, err error) {
	log.Fatal().Err(err).Msg(msg)
}

// maxReadTimeout caps the per-request await budget a client may ask for,
// so a single slow source cannot pin handler goroutines indefinitely.
const maxReadTimeout = 60 * time.Second

// server routes HTTP reads into a cache registry.
type server struct {
	cache *recache.Registry
}

// newServer wraps a registry in the HTTP read surface.
func newServer(cache *recache.Registry) *server {
	return &server{cache: cache}
}

// routes registers all handlers on a fresh mux.
func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Liveness endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Cache reads: /cache/{key}
	mux.HandleFunc("/cache/", s.handleGet)

	// Introspection endpoints
	mux.HandleFunc("/keys", s.handleKeys)
	mux.HandleFunc("/stats", s.handleStats)

	return mux
}

// handleGet serves GET /cache/{key}?timeout_ms=N.
//
// Responses:
//   - 200 with {"key", "value"} on a hit or a successful await
//   - 404 with {"error": "not_registered"} for unknown keys
//   - 504 with {"error": "timeout"} when no success arrived in time
//
// Keys may contain slashes; everything after the /cache/ prefix is the key.
func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/cache/")
	if key == "" {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "missing key"})
		return
	}

	timeout := time.Duration(0) // registry default
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			api.WriteJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid timeout_ms"})
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	if timeout > maxReadTimeout {
		timeout = maxReadTimeout
	}

	value, err := s.cache.Get(key, timeout)
	switch err {
	case nil:
		api.WriteJSON(w, http.StatusOK, api.ValueResponse{Key: key, Value: value})
	case recache.ErrNotRegistered:
		api.WriteJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not_registered"})
	case recache.ErrTimeout:
		api.WriteJSON(w, http.StatusGatewayTimeout, api.ErrorResponse{Error: "timeout"})
	default:
		log.Error().Err(err).Str("key", key).Msg("cache read failed")
		api.WriteJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal"})
	}
}

// handleKeys serves GET /keys.
func (s *server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.KeysResponse{Keys: s.cache.Keys()})
}

// handleStats serves GET /stats.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.StatsResponse{Keys: s.cache.Stats().Keys})
}

// registerSources registers the daemon's built-in computation sources.
//
// These are intentionally cheap demonstrations of the cache's shape; a
// deployment embeds this daemon's pattern with its own sources (remote
// lookups, expensive aggregations) registered the same way.
func registerSources(cache *recache.Registry, ttl, refresh time.Duration) error {
	started := time.Now()

	sources := map[string]recache.Func{
		"time/now": func() (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
		"sys/hostname": func() (any, error) {
			return os.Hostname()
		},
		"proc/uptime_seconds": func() (any, error) {
			return int64(time.Since(started).Seconds()), nil
		},
	}

	for key, fn := range sources {
		if err := cache.RegisterFunction(key, fn, ttl, refresh); err != nil {
			return err
		}
	}
	return nil
}

// main initializes the cache, registers the sources, and serves the read
// API until shutdown.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Source registration failed
//   - 1: Failed to start HTTP server
func main() {
	zerolog.DurationFieldUnit = time.Millisecond

	// Read configuration
	listen := getenv("RECACHED_LISTEN", ":8080")
	ttl := getenvMillis("RECACHED_TTL_MS", 60_000)
	refresh := getenvMillis("RECACHED_REFRESH_MS", 10_000)

	cache := recache.Default()
	if err := registerSources(cache, ttl, refresh); err != nil {
		logFatal("failed to register sources", err)
		return
	}

	srv := newServer(cache)

	// Configure HTTP server with security timeouts
	s := &http.Server{
		Addr:              listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	// Start server in goroutine for non-blocking operation
	go func() {
		log.Info().Str("listen", listen).Msg("recached listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen failed", err)
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// Drain in-flight reads, then stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("recached stopped")
}

// getenv returns the environment value for key, or def when unset.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getenvMillis reads a millisecond duration from the environment, falling
// back to def (also milliseconds) when unset or unparsable.
func getenvMillis(key string, def int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Millisecond
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		log.Warn().Str("var", key).Str("value", raw).Msg("ignoring invalid duration")
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
