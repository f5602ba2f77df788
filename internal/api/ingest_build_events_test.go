package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciwatch-io/ciwatch/internal/ingest"
)

func testBuildEvent(state string) ingest.BuildEvent {
	return ingest.BuildEvent{
		EventType:   ingest.EventBuildFinished,
		OccurredAt:  time.Date(2026, 3, 14, 4, 10, 0, 0, time.UTC),
		Pipeline:    "vllm/ci",
		BuildNumber: 1204,
		Branch:      "main",
		Commit:      "49f3a1c",
		State:       state,
	}
}

func postBuildEvent(t *testing.T, server *Server, event ingest.BuildEvent) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/build", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestHandleBuildEvent_FailedBuildScannedAndStored(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	trigger := &fakeScanTrigger{}
	writer := &fakeScanWriter{}
	server := newTestServer(t, Dependencies{Scanner: trigger, ScanWriter: writer})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateFailed))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, trigger.scanCalls)
	require.Len(t, writer.stored, 1)
	assert.Equal(t, 1204, writer.stored[0].Build.Number)

	var response BuildEventResponse

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, eventStatusScanned, response.Status)
	assert.Equal(t, "vllm/ci", response.Pipeline)
	assert.Equal(t, 1204, response.BuildNumber)
	assert.False(t, response.Duplicate)
	assert.NotEmpty(t, response.CorrelationID)

	// The server assigns an event ID when the producer omitted one.
	_, err := uuid.Parse(response.EventID)
	assert.NoError(t, err)
}

func TestHandleBuildEvent_CanceledBuildSkipped(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	trigger := &fakeScanTrigger{}
	server := newTestServer(t, Dependencies{Scanner: trigger})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateCanceled))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, trigger.scanCalls)

	var response BuildEventResponse

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, eventStatusSkipped, response.Status)
}

func TestHandleBuildEvent_WithoutWriter(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	trigger := &fakeScanTrigger{}
	server := newTestServer(t, Dependencies{Scanner: trigger})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateFailed))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, trigger.scanCalls)
}

func TestHandleBuildEvent_InvalidEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	trigger := &fakeScanTrigger{}
	server := newTestServer(t, Dependencies{Scanner: trigger})

	event := testBuildEvent(ingest.StateFailed)
	event.Pipeline = ""

	rec := postBuildEvent(t, server, event)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, trigger.scanCalls)
}

func TestHandleBuildEvent_MalformedJSON(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := newTestServer(t, Dependencies{Scanner: &fakeScanTrigger{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/build", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandleBuildEvent_WrongContentType(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := newTestServer(t, Dependencies{Scanner: &fakeScanTrigger{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/build", strings.NewReader("state=failed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandleBuildEvent_EmptyBody(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := newTestServer(t, Dependencies{Scanner: &fakeScanTrigger{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/build", nil)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBuildEvent_OversizedPayload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadServerConfig()
	cfg.MaxRequestSize = 64
	server := NewServer(cfg, Dependencies{Scanner: &fakeScanTrigger{}})

	payload, err := json.Marshal(testBuildEvent(ingest.StateFailed))
	require.NoError(t, err)
	require.Greater(t, len(payload), 64)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/build", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleBuildEvent_ScanFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	trigger := &fakeScanTrigger{err: errors.New("buildkite unavailable")}
	server := newTestServer(t, Dependencies{Scanner: trigger})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateFailed))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleBuildEvent_StoreFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	writer := &fakeScanWriter{err: errors.New("connection reset")}
	server := newTestServer(t, Dependencies{Scanner: &fakeScanTrigger{}, ScanWriter: writer})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateFailed))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleBuildEvent_ScannerNotConfigured(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := newTestServer(t, Dependencies{})

	rec := postBuildEvent(t, server, testBuildEvent(ingest.StateFailed))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
