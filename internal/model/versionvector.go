package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// VersionVector is an immutable per-node update counter used for write/write
// conflict detection. It shares the representation of VectorClock but not its algebra.
type VersionVector struct {
	entries map[string]int64
}

// VersionRelation represents the relation between two version vectors
type VersionRelation int

const (
	VersionEqual VersionRelation = iota
	VersionNewer
	VersionOlder
	VersionConflict
)

func (r VersionRelation) String() string {
	switch r {
	case VersionEqual:
		return "EQUAL"
	case VersionNewer:
		return "NEWER"
	case VersionOlder:
		return "OLDER"
	case VersionConflict:
		return "CONFLICT"
	default:
		return fmt.Sprintf("VersionRelation(%d)", int(r))
	}
}

// Inverse returns the relation seen from the other side
func (r VersionRelation) Inverse() VersionRelation {
	switch r {
	case VersionNewer:
		return VersionOlder
	case VersionOlder:
		return VersionNewer
	default:
		return r
	}
}

// MarshalText implements encoding.TextMarshaler
func (r VersionRelation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// NewVersionVector builds a version vector from a map. The map is copied.
func NewVersionVector(entries map[string]int64) VersionVector {
	return VersionVector{entries: copyCounters(entries)}
}

// Get returns the version recorded for a node
func (vv VersionVector) Get(nodeID string) int64 {
	return vv.entries[nodeID]
}

func (vv VersionVector) Len() int {
	return len(vv.entries)
}

func (vv VersionVector) IsEmpty() bool {
	return len(vv.entries) == 0
}

func (vv VersionVector) NodeIDs() []string {
	return sortedKeys(vv.entries)
}

// ToMap returns a copy of the underlying counters
func (vv VersionVector) ToMap() map[string]int64 {
	return copyCounters(vv.entries)
}

// Sum returns the total of all counters
func (vv VersionVector) Sum() int64 {
	var sum int64
	for _, v := range vv.entries {
		sum += v
	}
	return sum
}

// Max returns the largest counter, or 0 for an empty vector
func (vv VersionVector) Max() int64 {
	var max int64
	for _, v := range vv.entries {
		if v > max {
			max = v
		}
	}
	return max
}

func (vv VersionVector) Equal(other VersionVector) bool {
	return countersEqual(vv.entries, other.entries)
}

// With returns a copy of the vector with one counter replaced
func (vv VersionVector) With(nodeID string, value int64) VersionVector {
	m := copyCounters(vv.entries)
	if value > 0 {
		m[nodeID] = value
	} else {
		delete(m, nodeID)
	}
	return VersionVector{entries: m}
}

func (vv VersionVector) String() string {
	return "VersionVector" + formatCounters(vv.entries)
}

func (vv VersionVector) MarshalJSON() ([]byte, error) {
	if vv.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(vv.entries)
}

func (vv *VersionVector) UnmarshalJSON(data []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	vv.entries = copyCounters(m)
	return nil
}

// MergeRecord captures one merge applied to the local version vector
type MergeRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Old       VersionVector `json:"old_vector"`
	Incoming  VersionVector `json:"other_vector"`
	Result    VersionVector `json:"new_vector"`
}

// ResolutionStrategy names a conflict resolution policy
type ResolutionStrategy string

const (
	// StrategyMerge takes the coordinate-wise maximum
	StrategyMerge ResolutionStrategy = "merge"
	// StrategyLastWriteWins keeps the vector with the larger coordinate sum.
	// This is a heuristic, not a causal or wall-clock tiebreak.
	StrategyLastWriteWins ResolutionStrategy = "last-write-wins"
	// StrategyManual keeps the local vector and flags the conflict for an operator
	StrategyManual ResolutionStrategy = "manual"
)

// ParseStrategy maps a strategy name to a known strategy. Unknown names fall back to merge.
func ParseStrategy(name string) ResolutionStrategy {
	switch ResolutionStrategy(strings.ToLower(strings.TrimSpace(name))) {
	case StrategyLastWriteWins:
		return StrategyLastWriteWins
	case StrategyManual:
		return StrategyManual
	default:
		return StrategyMerge
	}
}

// Resolution is the outcome of resolving a conflict
type Resolution struct {
	Vector         VersionVector      `json:"vector"`
	Strategy       ResolutionStrategy `json:"strategy"`
	ManualRequired bool               `json:"manual_required"`
}
