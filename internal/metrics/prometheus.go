package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Clock metrics
	ClockOperations   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LamportTime       prometheus.Gauge
	VectorEntries     prometheus.Gauge
	VersionEntries    prometheus.Gauge

	// Store metrics
	StoreErrors *prometheus.CounterVec

	// GC metrics
	GCRuns           prometheus.Counter
	GCRemovedEntries prometheus.Counter

	// Conflict metrics
	ConflictsDetected   prometheus.Counter
	ConflictResolutions *prometheus.CounterVec

	// Event log and sync metrics
	EventsLogged    *prometheus.CounterVec
	SyncSweeps      *prometheus.CounterVec
	RegisteredNodes *prometheus.GaugeVec

	// Cluster metrics
	TransportMessages *prometheus.CounterVec
	MembershipEvents  *prometheus.CounterVec
}

// NewMetrics creates Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClockOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_clock_operations_total",
				Help: "Total number of clock operations",
			},
			[]string{"clock", "operation"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "causality_operation_duration_seconds",
				Help:    "Duration of composite timestamp operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		LamportTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "causality_lamport_time",
				Help: "Current Lamport time of this node",
			},
		),

		VectorEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "causality_vector_clock_entries",
				Help: "Number of entries in the local vector clock",
			},
		),

		VersionEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "causality_version_vector_entries",
				Help: "Number of entries in the local version vector",
			},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_store_errors_total",
				Help: "Total number of state store failures absorbed by the clock managers",
			},
			[]string{"op", "code"},
		),

		GCRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "causality_vector_clock_gc_runs_total",
				Help: "Total number of vector clock garbage collections",
			},
		),

		GCRemovedEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "causality_vector_clock_gc_removed_entries_total",
				Help: "Total number of vector clock entries removed by garbage collection",
			},
		),

		ConflictsDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "causality_conflicts_detected_total",
				Help: "Total number of conflicting event pairs reported",
			},
		),

		ConflictResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_conflict_resolutions_total",
				Help: "Total number of version vector conflict resolutions",
			},
			[]string{"strategy"},
		),

		EventsLogged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_events_logged_total",
				Help: "Total number of events appended to the event log",
			},
			[]string{"event_type", "status"},
		),

		SyncSweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_sync_sweeps_total",
				Help: "Total number of cluster-wide sync sweeps",
			},
			[]string{"status"},
		),

		RegisteredNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "causality_registered_nodes",
				Help: "Number of registered nodes per registry",
			},
			[]string{"registry"},
		),

		TransportMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_transport_messages_total",
				Help: "Total number of timestamp exchange messages",
			},
			[]string{"direction", "status"},
		),

		MembershipEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causality_membership_events_total",
				Help: "Total number of gossip membership events",
			},
			[]string{"type"},
		),
	}
}

// RecordClockOperation records one clock operation
func (m *Metrics) RecordClockOperation(clock, operation string) {
	if m == nil {
		return
	}
	m.ClockOperations.WithLabelValues(clock, operation).Inc()
}

// RecordDuration records the duration of a composite operation
func (m *Metrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// SetLamportTime updates the Lamport time gauge
func (m *Metrics) SetLamportTime(t int64) {
	if m == nil {
		return
	}
	m.LamportTime.Set(float64(t))
}

// SetVectorEntries updates the vector clock size gauge
func (m *Metrics) SetVectorEntries(n int) {
	if m == nil {
		return
	}
	m.VectorEntries.Set(float64(n))
}

// SetVersionEntries updates the version vector size gauge
func (m *Metrics) SetVersionEntries(n int) {
	if m == nil {
		return
	}
	m.VersionEntries.Set(float64(n))
}

// RecordStoreError records a store failure by operation and error code
func (m *Metrics) RecordStoreError(op, code string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op, code).Inc()
}

// RecordGC records a garbage collection run
func (m *Metrics) RecordGC(removed int) {
	if m == nil {
		return
	}
	m.GCRuns.Inc()
	m.GCRemovedEntries.Add(float64(removed))
}

// RecordConflicts records reported conflicts
func (m *Metrics) RecordConflicts(n int) {
	if m == nil {
		return
	}
	m.ConflictsDetected.Add(float64(n))
}

// RecordResolution records a conflict resolution
func (m *Metrics) RecordResolution(strategy string) {
	if m == nil {
		return
	}
	m.ConflictResolutions.WithLabelValues(strategy).Inc()
}

// RecordEventLogged records an event log append
func (m *Metrics) RecordEventLogged(eventType, status string) {
	if m == nil {
		return
	}
	m.EventsLogged.WithLabelValues(eventType, status).Inc()
}

// RecordSyncSweep records a sync sweep outcome
func (m *Metrics) RecordSyncSweep(status string) {
	if m == nil {
		return
	}
	m.SyncSweeps.WithLabelValues(status).Inc()
}

// SetRegisteredNodes updates the registered node gauge
func (m *Metrics) SetRegisteredNodes(registry string, n int) {
	if m == nil {
		return
	}
	m.RegisteredNodes.WithLabelValues(registry).Set(float64(n))
}

// RecordTransportMessage records a sent or received timestamp message
func (m *Metrics) RecordTransportMessage(direction, status string) {
	if m == nil {
		return
	}
	m.TransportMessages.WithLabelValues(direction, status).Inc()
}

// RecordMembershipEvent records a gossip join, leave or update
func (m *Metrics) RecordMembershipEvent(eventType string) {
	if m == nil {
		return
	}
	m.MembershipEvents.WithLabelValues(eventType).Inc()
}
