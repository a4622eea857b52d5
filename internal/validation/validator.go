package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/model"
)

const (
	MaxNodeIDSize    = 128
	MaxEventTypeSize = 64
	MaxPayloadSize   = 1024 * 1024 // 1 MB

	// Vector limits
	MaxVectorEntries = 1000
)

// Validator checks input received from other nodes before it reaches the clocks
type Validator struct {
	maxNodeIDSize    int
	maxPayloadSize   int
	maxVectorEntries int
}

// NewValidator creates a validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNodeIDSize:    MaxNodeIDSize,
		maxPayloadSize:   MaxPayloadSize,
		maxVectorEntries: MaxVectorEntries,
	}
}

// NewValidatorWithLimits creates a validator with custom limits. Non-positive
// limits keep the default.
func NewValidatorWithLimits(maxPayloadSize, maxVectorEntries int) *Validator {
	v := NewValidator()
	if maxPayloadSize > 0 {
		v.maxPayloadSize = maxPayloadSize
	}
	if maxVectorEntries > 0 {
		v.maxVectorEntries = maxVectorEntries
	}
	return v
}

// ValidateRemoteTimestamp validates a timestamp triple sent by another node,
// before it is decoded into clocks
func (v *Validator) ValidateRemoteTimestamp(remote model.WireTimestamp) error {
	if err := v.ValidateNodeID(remote.NodeID); err != nil {
		return err
	}

	if remote.LamportTime < 0 {
		return errors.InvalidArgument(
			fmt.Sprintf("lamport time cannot be negative: %d", remote.LamportTime),
			nil,
		).WithDetail("node_id", remote.NodeID)
	}

	if err := v.validateCounters("vector clock", remote.VectorClock); err != nil {
		return err
	}
	return v.validateCounters("version vector", remote.VersionVector)
}

// ValidateEvent validates the event type and payload of a remote event
func (v *Validator) ValidateEvent(eventType string, payload []byte) error {
	if len(eventType) > MaxEventTypeSize {
		return errors.InvalidArgument(
			fmt.Sprintf("event type exceeds maximum size of %d bytes", MaxEventTypeSize),
			nil,
		)
	}
	for _, r := range eventType {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("event type cannot contain control characters", nil)
		}
	}

	if len(payload) > v.maxPayloadSize {
		return errors.InvalidArgument(
			fmt.Sprintf("payload too large: %d > %d bytes", len(payload), v.maxPayloadSize),
			nil,
		)
	}
	return nil
}

// ValidateNodeID validates a node identifier
func (v *Validator) ValidateNodeID(nodeID string) error {
	if nodeID == "" {
		return errors.InvalidArgument("node ID cannot be empty", nil)
	}

	if len(nodeID) > v.maxNodeIDSize {
		return errors.InvalidArgument(
			fmt.Sprintf("node ID exceeds maximum size of %d bytes", v.maxNodeIDSize),
			nil,
		)
	}

	// ':' separates the node ID from the key prefix in the state store
	if strings.Contains(nodeID, ":") {
		return errors.InvalidArgument("node ID cannot contain ':' character", nil).
			WithDetail("node_id", nodeID)
	}

	for _, r := range nodeID {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.InvalidArgument("node ID cannot contain whitespace or control characters", nil).
				WithDetail("node_id", nodeID)
		}
	}

	return nil
}

func (v *Validator) validateCounters(what string, counters map[string]int64) error {
	if len(counters) > v.maxVectorEntries {
		return errors.InvalidArgument(
			fmt.Sprintf("%s has too many entries: %d > %d", what, len(counters), v.maxVectorEntries),
			nil,
		)
	}

	for nodeID, counter := range counters {
		if err := v.ValidateNodeID(nodeID); err != nil {
			return errors.InvalidArgument(fmt.Sprintf("%s entry has invalid node ID", what), err)
		}
		if counter < 0 {
			return errors.InvalidArgument(
				fmt.Sprintf("%s entry for %s has negative counter: %d", what, nodeID, counter),
				nil,
			)
		}
	}
	return nil
}

// SanitizeNodeID strips characters a node ID may not contain
func SanitizeNodeID(nodeID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == ':' {
			return -1
		}
		return r
	}, nodeID)

	if len(sanitized) > MaxNodeIDSize {
		sanitized = sanitized[:MaxNodeIDSize]
	}
	return sanitized
}
