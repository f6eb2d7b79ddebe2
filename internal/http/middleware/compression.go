package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressedTypes are the response types worth compressing. Media downloads
// are already compressed.
var compressedTypes = []string{
	"application/json",
	"application/problem+json",
	"application/vnd.oai.openapi+json",
	"application/yaml",
	"text/html",
	"text/plain",
	"text/css",
	"text/javascript",
}

// Compress negotiates br, gzip or deflate for API responses. Websocket
// upgrades and downloads bypass it with the raw ResponseWriter.
func Compress(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level, compressedTypes...)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})

	return func(next http.Handler) http.Handler {
		compressed := c.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsStreamingRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

// IsStreamingRequest reports whether r is a websocket upgrade or a file
// download. Upgrades need a hijackable writer and downloads carry an exact
// Content-Length.
func IsStreamingRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, downloadPrefix)
}
