package algorithm

import (
	"github.com/devrev/causality/internal/model"
)

// VersionVectorOps provides operations on version vectors
type VersionVectorOps struct{}

// NewVersionVectorOps creates a new VersionVectorOps
func NewVersionVectorOps() *VersionVectorOps {
	return &VersionVectorOps{}
}

// Increment returns a copy of vv with nodeID's counter advanced by one
func (o *VersionVectorOps) Increment(vv model.VersionVector, nodeID string) model.VersionVector {
	return vv.With(nodeID, vv.Get(nodeID)+1)
}

// Set returns a copy of vv with nodeID's counter overridden
func (o *VersionVectorOps) Set(vv model.VersionVector, nodeID string, version int64) model.VersionVector {
	return vv.With(nodeID, version)
}

// Merge takes the coordinate-wise maximum over the union of keys
func (o *VersionVectorOps) Merge(vectors ...model.VersionVector) model.VersionVector {
	merged := make(map[string]int64)
	for _, vv := range vectors {
		for nodeID, version := range vv.ToMap() {
			if version > merged[nodeID] {
				merged[nodeID] = version
			}
		}
	}
	return model.NewVersionVector(merged)
}

// Compare classifies local against other
func (o *VersionVectorOps) Compare(local, other model.VersionVector) model.VersionRelation {
	localAhead, otherAhead := dominance(local.ToMap(), other.ToMap(), false)

	switch {
	case localAhead && otherAhead:
		return model.VersionConflict
	case localAhead:
		return model.VersionNewer
	case otherAhead:
		return model.VersionOlder
	default:
		return model.VersionEqual
	}
}

// HasConflict reports whether each side holds an update the other lacks.
// It runs the same scan as Compare but stops at the first proof of conflict.
func (o *VersionVectorOps) HasConflict(local, other model.VersionVector) bool {
	localAhead, otherAhead := dominance(local.ToMap(), other.ToMap(), true)
	return localAhead && otherAhead
}

// Resolve applies a resolution strategy to a conflicting pair
func (o *VersionVectorOps) Resolve(local, conflicting model.VersionVector, strategy model.ResolutionStrategy) model.Resolution {
	switch strategy {
	case model.StrategyLastWriteWins:
		// Sum comparison is a heuristic; ties keep the local vector.
		if conflicting.Sum() > local.Sum() {
			return model.Resolution{Vector: conflicting, Strategy: strategy}
		}
		return model.Resolution{Vector: local, Strategy: strategy}
	case model.StrategyManual:
		return model.Resolution{Vector: local, Strategy: strategy, ManualRequired: true}
	default:
		return model.Resolution{Vector: o.Merge(local, conflicting), Strategy: model.StrategyMerge}
	}
}
