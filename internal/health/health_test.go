package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/causality/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// downStateStore is an in-memory store whose Ping always fails
type downStateStore struct {
	*store.InMemoryStateStore
}

func (downStateStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var status HealthStatus
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	}
	return rec, status
}

func TestLiveness(t *testing.T) {
	h := NewHealthChecker(nil, nil, zap.NewNop())
	rec, status := get(t, NewRouter(h, "", nil), "/health/live")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", status.Status)
	assert.NotZero(t, status.Timestamp)
}

func TestReadiness(t *testing.T) {
	logger := zap.NewNop()
	healthy := store.NewInMemoryStateStore(logger)

	tests := []struct {
		name       string
		stateStore store.StateStore
		eventLog   store.EventLog
		shutdown   bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			stateStore: healthy,
			eventLog:   store.NewInMemoryEventLog(),
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"state_store": "healthy", "event_log": "healthy"},
		},
		{
			name:       "state store down",
			stateStore: downStateStore{healthy},
			eventLog:   store.NewInMemoryEventLog(),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"state_store": "unhealthy: connection refused", "event_log": "healthy"},
		},
		{
			name:       "no stores configured",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "shutting down",
			stateStore: healthy,
			shutdown:   true,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"state_store": "healthy", "lifecycle": "shutting down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.stateStore, tt.eventLog, logger)
			if tt.shutdown {
				h.SetShuttingDown()
			}

			rec, status := get(t, NewRouter(h, "", nil), "/health/ready")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, status.Status)
			if tt.wantChecks == nil {
				assert.Empty(t, status.Checks)
			} else {
				assert.Equal(t, tt.wantChecks, status.Checks)
			}
		})
	}
}

func TestRouter_MetricsMount(t *testing.T) {
	h := NewHealthChecker(nil, nil, zap.NewNop())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("causality_lamport_time 3\n"))
	})

	rec, _ := get(t, NewRouter(h, "/custom", metrics), "/custom")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "causality_lamport_time")

	rec, _ = get(t, NewRouter(h, "", nil), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	NewRouter(h, "", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/live", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
