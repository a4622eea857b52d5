package model

import (
	"encoding/json"
	"time"
)

// ConflictTypeVersionVector marks a write/write conflict found through version vectors
const ConflictTypeVersionVector = "VERSION_VECTOR"

// Timestamp is the triple attached to every causality event
type Timestamp struct {
	LogicalTime   int64         `json:"lamport_time"`
	VectorClock   VectorClock   `json:"vector_clock"`
	VersionVector VersionVector `json:"version_vector"`
}

// RemoteTimestamp is a timestamp triple received from another node
type RemoteTimestamp struct {
	NodeID string `json:"node_id"`
	Timestamp
}

// WireTimestamp is a RemoteTimestamp as it travels between nodes. Counters
// are kept verbatim so non-positive entries can be rejected before decoding
// drops them.
type WireTimestamp struct {
	NodeID        string           `json:"node_id"`
	LamportTime   int64            `json:"lamport_time"`
	VectorClock   map[string]int64 `json:"vector_clock,omitempty"`
	VersionVector map[string]int64 `json:"version_vector,omitempty"`
}

// NewWireTimestamp encodes a remote timestamp for the wire
func NewWireTimestamp(remote RemoteTimestamp) WireTimestamp {
	return WireTimestamp{
		NodeID:        remote.NodeID,
		LamportTime:   remote.LogicalTime,
		VectorClock:   remote.VectorClock.ToMap(),
		VersionVector: remote.VersionVector.ToMap(),
	}
}

// Decode converts the wire form into clocks
func (w WireTimestamp) Decode() RemoteTimestamp {
	return RemoteTimestamp{
		NodeID: w.NodeID,
		Timestamp: Timestamp{
			LogicalTime:   w.LamportTime,
			VectorClock:   NewVectorClock(w.VectorClock),
			VersionVector: NewVersionVector(w.VersionVector),
		},
	}
}

// CausalityEvent is an immutable log record of one domain event.
// VectorClock and VersionVector are nil when the stored snapshot was missing or malformed.
type CausalityEvent struct {
	ID            string          `json:"id"`
	NodeID        string          `json:"node_id"`
	LamportTime   int64           `json:"lamport_time"`
	VectorClock   *VectorClock    `json:"vector_clock,omitempty"`
	VersionVector *VersionVector  `json:"version_vector,omitempty"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewCausalityEvent builds an event record from a timestamp triple
func NewCausalityEvent(id, nodeID, eventType string, ts Timestamp, payload json.RawMessage, createdAt time.Time) *CausalityEvent {
	vc := ts.VectorClock
	vv := ts.VersionVector
	var data json.RawMessage
	if len(payload) > 0 {
		data = append(json.RawMessage(nil), payload...)
	}
	return &CausalityEvent{
		ID:            id,
		NodeID:        nodeID,
		LamportTime:   ts.LogicalTime,
		VectorClock:   &vc,
		VersionVector: &vv,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     createdAt,
	}
}

// Clock returns the event's vector clock, or an empty clock when missing
func (e *CausalityEvent) Clock() VectorClock {
	if e == nil || e.VectorClock == nil {
		return VectorClock{}
	}
	return *e.VectorClock
}

// Version returns the event's version vector, or an empty vector when missing
func (e *CausalityEvent) Version() VersionVector {
	if e == nil || e.VersionVector == nil {
		return VersionVector{}
	}
	return *e.VersionVector
}

// ConflictReport describes two logged events whose version vectors conflict
type ConflictReport struct {
	Event1ID     string    `json:"event1_id"`
	Event2ID     string    `json:"event2_id"`
	Node1        string    `json:"node1"`
	Node2        string    `json:"node2"`
	ConflictType string    `json:"conflict_type"`
	DetectedAt   time.Time `json:"detected_at"`
}

// TimestampComparison is the outcome of comparing two events on all three clocks
type TimestampComparison struct {
	LamportRelation       ClockRelation   `json:"lamport_relation"`
	LamportTime1          int64           `json:"lamport_time1"`
	LamportTime2          int64           `json:"lamport_time2"`
	VectorClockRelation   ClockRelation   `json:"vector_clock_relation"`
	VersionVectorRelation VersionRelation `json:"version_vector_relation"`
	HasConflict           bool            `json:"has_conflict"`
}

// NodeStatus is a point-in-time snapshot of a node's clocks
type NodeStatus struct {
	NodeID        string        `json:"node_id"`
	LamportTime   int64         `json:"lamport_time"`
	VectorClock   VectorClock   `json:"vector_clock"`
	VersionVector VersionVector `json:"version_vector"`
	Timestamp     time.Time     `json:"timestamp"`
}

// SyncResult reports the outcome of a cluster-wide convergence sweep
type SyncResult struct {
	SyncedAt      time.Time     `json:"synced_at"`
	LamportTime   int64         `json:"lamport_time"`
	VectorClock   VectorClock   `json:"vector_clock"`
	VersionVector VersionVector `json:"version_vector"`
	ClockPeers    int           `json:"clock_peers"`
	VersionPeers  int           `json:"version_peers"`
}
