package api

import (
	"bufio"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"linkedin-gateway/internal/logger"
)

// LoggingMiddleware logs HTTP requests with method, path, status, and
// duration.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	l := log.WithComponent("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the WebSocket upgrade to pass through the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// RecovererMiddleware recovers from panics and returns a 500 error.
func RecovererMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	l := log.WithComponent("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					l.Error().Interface("panic", err).Bytes("stack", debug.Stack()).Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
