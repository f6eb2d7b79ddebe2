package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/models"
)

type fakeCounter struct{}

func (fakeCounter) ActiveCount() int { return 1 }
func (fakeCounter) Snapshot() []*models.Job {
	old := models.NewJob("tok", "mp4")
	old.CreatedAt = time.Now().Add(-time.Hour)
	converting := models.NewJob("tok", "mkv")
	converting.State = models.JobStateConverting
	return []*models.Job{old, models.NewJob("tok", "webm"), converting}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0", fakeCounter{})

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	body := output.Body.Data
	assert.Equal(t, "success", output.Body.Type)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.0.0", body.Version)
	assert.Equal(t, "disabled", body.Database)
	assert.Positive(t, body.CPU.Cores)
	assert.GreaterOrEqual(t, body.UptimeSeconds, 0.0)
	assert.Equal(t, 3, body.Jobs.Registered)
	assert.Equal(t, 1, body.Jobs.Converting)
	assert.Equal(t, 2, body.Jobs.ByState[models.JobStateUploaded])
	assert.Equal(t, 1, body.Jobs.ByState[models.JobStateConverting])
	assert.InDelta(t, time.Hour.Seconds(), body.Jobs.OldestSeconds, 60)
}

func TestHealthHandler_Database(t *testing.T) {
	ok, err := NewHealthHandler("1.0.0", fakeCounter{}).WithDB(fakePinger{}).
		GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", ok.Body.Data.Database)
	assert.Equal(t, "healthy", ok.Body.Data.Status)

	failing, err := NewHealthHandler("1.0.0", fakeCounter{}).WithDB(fakePinger{err: errors.New("gone")}).
		GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "error", failing.Body.Data.Database)
	assert.Equal(t, "degraded", failing.Body.Data.Status)
}

func TestHealthHandler_Route(t *testing.T) {
	router, api := newTestAPI(t)
	NewHealthHandler("1.0.0", fakeCounter{}).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "success", body["type"])
	assert.Equal(t, "healthy", body["data"].(map[string]any)["status"])
}
