package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs the start, duration and status of each request.
func LoggingMiddleware(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			logger.Debug("http_request_started",
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			if rec.status >= http.StatusInternalServerError {
				logger.Error("http_request_failed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"duration_ms", duration.Milliseconds(),
				)
				return
			}
			logger.Debug("http_request_completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

// =============================================================================
// RECOVERY MIDDLEWARE
// =============================================================================

// RecoveryMiddleware recovers from handler panics, logs the stack trace and
// answers 500.
func RecoveryMiddleware(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("http_panic_recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", fmt.Sprintf("%v", p),
						"stack", string(debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, fmt.Errorf("panic recovered: %v", p))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain applies middleware in order: the first wraps the second, etc.
func Chain(h http.Handler, middleware ...Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
