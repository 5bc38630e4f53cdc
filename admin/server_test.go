package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"telegram-pairing-bot/metrics"
	"telegram-pairing-bot/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockJob struct {
	mock.Mock
}

func (m *mockJob) Run(ctx context.Context) (scheduler.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(scheduler.Report), args.Error(1)
}

func (m *mockJob) RunPeriod(ctx context.Context, period string) (scheduler.Report, error) {
	args := m.Called(ctx, period)
	return args.Get(0).(scheduler.Report), args.Error(1)
}

func serve(t *testing.T, job Job, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	NewServer("127.0.0.1:0", job).Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, &mockJob{}, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	metrics.MustRegister()
	metrics.IncCommand("status", "ok")

	rec := serve(t, &mockJob{}, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pairing_commands_total")
}

func TestWeeklyPairing_CurrentPeriod(t *testing.T) {
	job := &mockJob{}
	job.On("Run", mock.Anything).Return(scheduler.Report{Period: "2026-W42", Groups: 2, Created: 2, Announced: 2}, nil)

	rec := serve(t, job, http.MethodPost, "/jobs/weekly-pairing")

	require.Equal(t, http.StatusOK, rec.Code)
	var body jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-W42", body.Report.Period)
	assert.Equal(t, 2, body.Report.Announced)
	assert.Empty(t, body.Error)
	job.AssertExpectations(t)
}

func TestWeeklyPairing_GivenPeriod(t *testing.T) {
	job := &mockJob{}
	job.On("RunPeriod", mock.Anything, "2026-W40").Return(scheduler.Report{Period: "2026-W40", Groups: 1, Failed: 1},
		errors.New("announce round for chat -1: telegram down"))

	rec := serve(t, job, http.MethodPost, "/jobs/weekly-pairing?period=2026-W40")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "telegram down"))
	job.AssertExpectations(t)
}

func TestWeeklyPairing_InvalidPeriod(t *testing.T) {
	job := &mockJob{}

	rec := serve(t, job, http.MethodPost, "/jobs/weekly-pairing?period=last-week")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	job.AssertNotCalled(t, "RunPeriod", mock.Anything, mock.Anything)
}

func TestWeeklyPairing_MethodNotAllowed(t *testing.T) {
	rec := serve(t, &mockJob{}, http.MethodGet, "/jobs/weekly-pairing")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
