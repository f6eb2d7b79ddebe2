// Package observability builds vertd's structured logger and carries
// request-scoped values through contexts.
package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/version"
)

// redactedFields are attribute and struct field names whose values are masked.
var redactedFields = []string{"token", "auth", "Auth", "password", "admin_password", "access_key", "secret_key"}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds a logger writing to w. Secrets are masked, including any
// models.Secret value nested in a logged struct, and records logged with a
// context carry its request id.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr(cfg.TimeFormat),
	}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(&requestIDHandler{Handler: h})
}

func replaceAttr(timeFormat string) func([]string, slog.Attr) slog.Attr {
	masqOpts := []masq.Option{masq.WithType[models.Secret]()}
	for _, name := range redactedFields {
		masqOpts = append(masqOpts, masq.WithFieldName(name))
	}
	redact := masq.New(masqOpts...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			if t, ok := a.Value.Any().(time.Time); ok && timeFormat != "" {
				return slog.String(slog.TimeKey, t.Format(timeFormat))
			}
			return a
		}
		return redact(groups, a)
	}
}

// parseLevel defaults to info for unknown names.
func parseLevel(level string) slog.Level {
	if l, ok := levels[level]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithApp tags the logger with the application name and version.
func WithApp(logger *slog.Logger) *slog.Logger {
	return logger.With(
		slog.String("app", version.Name),
		slog.String("version", version.Version),
	)
}

// requestIDHandler adds request_id to records whose context carries one.
type requestIDHandler struct {
	slog.Handler
}

func (h *requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &requestIDHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *requestIDHandler) WithGroup(name string) slog.Handler {
	return &requestIDHandler{Handler: h.Handler.WithGroup(name)}
}
