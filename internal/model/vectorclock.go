package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// VectorClockEntry represents a single coordinate of a vector clock
type VectorClockEntry struct {
	NodeID           string `json:"node_id"`
	LogicalTimestamp int64  `json:"logical_timestamp"`
}

// VectorClock is an immutable mapping from node ID to logical time.
// Absent entries are implicitly zero. The zero value is an empty clock.
type VectorClock struct {
	entries map[string]int64
}

// ClockRelation represents the causal relation between two vector clocks
type ClockRelation int

const (
	// ClockEqual means both vector clocks are identical
	ClockEqual ClockRelation = iota
	// ClockBefore means first happens before second
	ClockBefore
	// ClockAfter means first happens after second
	ClockAfter
	// ClockConcurrent means neither dominates
	ClockConcurrent
)

func (r ClockRelation) String() string {
	switch r {
	case ClockEqual:
		return "EQUAL"
	case ClockBefore:
		return "BEFORE"
	case ClockAfter:
		return "AFTER"
	case ClockConcurrent:
		return "CONCURRENT"
	default:
		return fmt.Sprintf("ClockRelation(%d)", int(r))
	}
}

// Inverse returns the relation seen from the other side
func (r ClockRelation) Inverse() ClockRelation {
	switch r {
	case ClockBefore:
		return ClockAfter
	case ClockAfter:
		return ClockBefore
	default:
		return r
	}
}

// MarshalText implements encoding.TextMarshaler
func (r ClockRelation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// NewVectorClock builds a vector clock from a map. The map is copied;
// zero and negative coordinates are dropped.
func NewVectorClock(entries map[string]int64) VectorClock {
	return VectorClock{entries: copyCounters(entries)}
}

// NewVectorClockFromEntries builds a vector clock from a list of entries
func NewVectorClockFromEntries(entries []VectorClockEntry) VectorClock {
	m := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.LogicalTimestamp > m[e.NodeID] {
			m[e.NodeID] = e.LogicalTimestamp
		}
	}
	return VectorClock{entries: m}
}

// Get returns the logical time recorded for a node
func (vc VectorClock) Get(nodeID string) int64 {
	return vc.entries[nodeID]
}

// Len returns the number of recorded coordinates
func (vc VectorClock) Len() int {
	return len(vc.entries)
}

// IsEmpty reports whether the clock has no coordinates
func (vc VectorClock) IsEmpty() bool {
	return len(vc.entries) == 0
}

// NodeIDs returns the recorded node IDs in sorted order
func (vc VectorClock) NodeIDs() []string {
	return sortedKeys(vc.entries)
}

// ToMap returns a copy of the underlying coordinates
func (vc VectorClock) ToMap() map[string]int64 {
	return copyCounters(vc.entries)
}

// Entries returns the coordinates sorted by node ID
func (vc VectorClock) Entries() []VectorClockEntry {
	out := make([]VectorClockEntry, 0, len(vc.entries))
	for _, id := range sortedKeys(vc.entries) {
		out = append(out, VectorClockEntry{NodeID: id, LogicalTimestamp: vc.entries[id]})
	}
	return out
}

// Equal reports element-wise equality with absent entries read as zero
func (vc VectorClock) Equal(other VectorClock) bool {
	return countersEqual(vc.entries, other.entries)
}

// With returns a copy of the clock with one coordinate replaced
func (vc VectorClock) With(nodeID string, value int64) VectorClock {
	m := copyCounters(vc.entries)
	if value > 0 {
		m[nodeID] = value
	} else {
		delete(m, nodeID)
	}
	return VectorClock{entries: m}
}

func (vc VectorClock) String() string {
	return "VectorClock" + formatCounters(vc.entries)
}

// MarshalJSON encodes the clock as a flat {"node": time} object
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	if vc.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(vc.entries)
}

// UnmarshalJSON decodes a flat {"node": time} object. null decodes to an empty clock.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	vc.entries = copyCounters(m)
	return nil
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		if v > 0 {
			dst[k] = v
		}
	}
	return dst
}

func countersEqual(a, b map[string]int64) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatCounters(m map[string]int64) string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range sortedKeys(m) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%d", k, m[k])
	}
	b.WriteString("}")
	return b.String()
}
