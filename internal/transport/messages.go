package transport

import (
	"encoding/json"

	"github.com/devrev/causality/internal/model"
)

// IngestRequest carries one event created on a peer
type IngestRequest struct {
	EventID   string              `json:"event_id,omitempty"`
	EventType string              `json:"event_type"`
	Remote    model.WireTimestamp `json:"remote"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
}

// IngestResponse returns the receiver's timestamps after ingesting the event
type IngestResponse struct {
	NodeID    string          `json:"node_id"`
	EventID   string          `json:"event_id"`
	Timestamp model.Timestamp `json:"timestamp"`
}

// StatusRequest asks a peer for its clock snapshot
type StatusRequest struct{}

// StatusResponse wraps a peer's clock snapshot
type StatusResponse struct {
	Status model.NodeStatus `json:"status"`
}

// NewIngestRequest builds the message that ships event to peers
func NewIngestRequest(event *model.CausalityEvent) *IngestRequest {
	return &IngestRequest{
		EventID:   event.ID,
		EventType: event.EventType,
		Remote: model.NewWireTimestamp(model.RemoteTimestamp{
			NodeID: event.NodeID,
			Timestamp: model.Timestamp{
				LogicalTime:   event.LamportTime,
				VectorClock:   event.Clock(),
				VersionVector: event.Version(),
			},
		}),
		Payload: event.Payload,
	}
}
