package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/repository"
	"github.com/jmylchreest/vertd/internal/version"
)

type fakeSummary struct {
	summary *repository.Summary
	err     error
}

func (f fakeSummary) Summary(context.Context) (*repository.Summary, error) {
	return f.summary, f.err
}

func TestSystemHandler_Version(t *testing.T) {
	router, api := newTestAPI(t)
	NewSystemHandler(nil).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"success","data":"`+version.Version+`"}`, rec.Body.String())
}

func TestSystemHandler_Stats(t *testing.T) {
	summary := repository.EmptySummary()
	summary.Total = 4
	summary.ByOutcome[models.JobStateCompleted] = 3
	summary.ByTarget["webm"] = 4

	out, err := NewSystemHandler(fakeSummary{summary: summary}).GetStats(context.Background(), &StatsInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.Body.Data.Total)
	assert.Equal(t, int64(3), out.Body.Data.ByOutcome[models.JobStateCompleted])
}

func TestSystemHandler_StatsWithoutHistory(t *testing.T) {
	out, err := NewSystemHandler(nil).GetStats(context.Background(), &StatsInput{})
	require.NoError(t, err)
	assert.Zero(t, out.Body.Data.Total)
	assert.NotNil(t, out.Body.Data.ByOutcome)
}

func TestSystemHandler_StatsError(t *testing.T) {
	router, api := newTestAPI(t)
	NewSystemHandler(fakeSummary{err: errors.New("db locked")}).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"type":"error","data":"failed to summarize history"}`, rec.Body.String())
}
