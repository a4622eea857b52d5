package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/devrev/causality/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthChecker serves liveness and readiness probes for a causality node
type HealthChecker struct {
	stateStore store.StateStore
	eventLog   store.EventLog
	logger     *zap.Logger

	shuttingDown atomic.Bool
	timeout      time.Duration
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker. Either store may be nil.
func NewHealthChecker(stateStore store.StateStore, eventLog store.EventLog, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		stateStore: stateStore,
		eventLog:   eventLog,
		logger:     logger,
		timeout:    readinessTimeout,
	}
}

// SetShuttingDown flips readiness to not_ready so load balancers drain the node
func (h *HealthChecker) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler pings both stores and reports 503 when either is down
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	check := func(name string, ping func(context.Context) error) {
		if ping == nil {
			return
		}
		if err := ping(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	if h.stateStore != nil {
		check("state_store", h.stateStore.Ping)
	}
	if h.eventLog != nil {
		check("event_log", h.eventLog.Ping)
	}
	if h.shuttingDown.Load() {
		checks["lifecycle"] = "shutting down"
		allHealthy = false
	}

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !allHealthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

// NewRouter mounts the probes, and the metrics handler when one is given
func NewRouter(h *HealthChecker, metricsPath string, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health/live", h.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.ReadinessHandler).Methods(http.MethodGet)
	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, metricsHandler).Methods(http.MethodGet)
	}
	return r
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
