// Package handlers provides HTTP API handlers for vertd.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/models"
)

// Envelope is the shape of every successful JSON body.
type Envelope[T any] struct {
	Type string `json:"type" enum:"success"`
	Data T      `json:"data"`
}

func success[T any](data T) Envelope[T] {
	return Envelope[T]{Type: "success", Data: data}
}

// ErrorEnvelope is the shape of every error body: {"type":"error","data":msg}.
type ErrorEnvelope struct {
	status int
	Type   string `json:"type" enum:"error"`
	Data   string `json:"data"`
}

// Error returns the client-facing message.
func (e *ErrorEnvelope) Error() string { return e.Data }

// GetStatus returns the HTTP status code.
func (e *ErrorEnvelope) GetStatus() int { return e.status }

// NewErrorEnvelope builds a huma error in the envelope shape. Detail errors
// are appended to the message.
func NewErrorEnvelope(status int, msg string, errs ...error) huma.StatusError {
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	if len(details) > 0 {
		if msg != "" {
			msg += ": "
		}
		msg += strings.Join(details, "; ")
	}
	return &ErrorEnvelope{status: status, Type: "error", Data: msg}
}

// APIConfig returns the huma configuration shared by the server and tests.
// The $schema link transformer is left out so bodies keep the exact
// envelope shape.
func APIConfig(title, version string) huma.Config {
	config := huma.DefaultConfig(title, version)
	config.CreateHooks = nil
	return config
}

var installOnce sync.Once

// InstallErrorEnvelope makes huma produce ErrorEnvelope for every error.
func InstallErrorEnvelope() {
	installOnce.Do(func() {
		huma.NewError = NewErrorEnvelope
	})
}

// statusFor maps job errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrIncompleteHandshake),
		errors.Is(err, models.ErrNotErrored),
		errors.Is(err, models.ErrInvalidInputFormat):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrJobNotFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// apiError converts a service error into a huma error.
func apiError(err error) error {
	return NewErrorEnvelope(statusFor(err), err.Error())
}

// writeJSON writes v with the given status for handlers outside huma.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err in the error envelope for handlers outside huma.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, NewErrorEnvelope(status, msg))
}
