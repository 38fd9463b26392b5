package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// ResponseWriter records what a handler answered so the access log and the
// webhook metrics can report it
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

// NewResponseWriter wraps w; a handler that never calls WriteHeader answered 200
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// StatusCode returns the status written so far
func (rw *ResponseWriter) StatusCode() int {
	return rw.statusCode
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// LoggingMiddleware writes one access line per request. Rejected webhook
// deliveries and failed admin calls are raised to warn and error so they
// stand out from the steady stream of accepted events.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := NewResponseWriter(w)

			next.ServeHTTP(rw, r)

			slog.Log(r.Context(), accessLevel(rw.statusCode), "Request handled",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"route", r.Pattern,
				"backend", r.PathValue("backend"),
				"path", r.URL.Path,
				"status", rw.statusCode,
				"bytes", rw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// accessLevel picks the log level of an access line from its status
func accessLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
