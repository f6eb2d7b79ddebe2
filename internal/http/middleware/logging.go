package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const downloadPrefix = "/api/download/"

// RedactPath hides the capability token in /api/download/{id}/{token}.
func RedactPath(path string) string {
	rest, ok := strings.CutPrefix(path, downloadPrefix)
	if !ok {
		return path
	}
	id, _, found := strings.Cut(rest, "/")
	if !found {
		return path
	}
	return downloadPrefix + id + "/[REDACTED]"
}

// statusOf reports what the client saw. A hijacked websocket never writes a
// status through the wrapper.
func statusOf(ww chimiddleware.WrapResponseWriter, r *http.Request) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// NewLoggingMiddleware logs one line per request at a level chosen by the
// status class. The logger handler adds the request id from the context.
func NewLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := statusOf(ww, r)
			logger.LogAttrs(r.Context(), levelFor(status), "http request",
				slog.String("method", r.Method),
				slog.String("path", RedactPath(r.URL.Path)),
				slog.Int("status", status),
				slog.Int("size", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
