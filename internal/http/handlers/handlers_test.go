package handlers

import (
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

func newTestAPI(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	InstallErrorEnvelope()
	router := chi.NewRouter()
	api := humachi.New(router, APIConfig("vertd test", "test"))
	return router, api
}
