package algorithm

import (
	"github.com/devrev/causality/internal/model"
)

// VectorClockOps provides operations on vector clocks
type VectorClockOps struct{}

// NewVectorClockOps creates a new VectorClockOps
func NewVectorClockOps() *VectorClockOps {
	return &VectorClockOps{}
}

// Compare returns the causal relation of vc1 to vc2 over the union of their keys
func (v *VectorClockOps) Compare(vc1, vc2 model.VectorClock) model.ClockRelation {
	ahead, behind := dominance(vc1.ToMap(), vc2.ToMap(), false)

	switch {
	case !ahead && !behind:
		return model.ClockEqual
	case behind && !ahead:
		return model.ClockBefore
	case ahead && !behind:
		return model.ClockAfter
	default:
		return model.ClockConcurrent
	}
}

// HappensBefore reports whether vc1 causally precedes vc2
func (v *VectorClockOps) HappensBefore(vc1, vc2 model.VectorClock) bool {
	return v.Compare(vc1, vc2) == model.ClockBefore
}

// IsConcurrent reports whether neither clock dominates the other
func (v *VectorClockOps) IsConcurrent(vc1, vc2 model.VectorClock) bool {
	return v.Compare(vc1, vc2) == model.ClockConcurrent
}

// Merge merges multiple vector clocks by taking the coordinate-wise maximum
func (v *VectorClockOps) Merge(clocks ...model.VectorClock) model.VectorClock {
	merged := make(map[string]int64)

	for _, clock := range clocks {
		for nodeID, ts := range clock.ToMap() {
			if ts > merged[nodeID] {
				merged[nodeID] = ts
			}
		}
	}

	return model.NewVectorClock(merged)
}

// Increment returns a copy of vc with nodeID's coordinate advanced by one
func (v *VectorClockOps) Increment(vc model.VectorClock, nodeID string) model.VectorClock {
	return vc.With(nodeID, vc.Get(nodeID)+1)
}

// Sync applies the receive rule: merge with the remote clock, then increment nodeID
func (v *VectorClockOps) Sync(local, remote model.VectorClock, nodeID string) model.VectorClock {
	return v.Increment(v.Merge(local, remote), nodeID)
}

// Prune keeps only the coordinates of nodes in live plus keep. Retained values are unchanged.
func (v *VectorClockOps) Prune(vc model.VectorClock, live []string, keep string) model.VectorClock {
	allowed := make(map[string]struct{}, len(live)+1)
	for _, nodeID := range live {
		allowed[nodeID] = struct{}{}
	}
	allowed[keep] = struct{}{}

	pruned := make(map[string]int64, len(allowed))
	for nodeID, ts := range vc.ToMap() {
		if _, ok := allowed[nodeID]; ok {
			pruned[nodeID] = ts
		}
	}
	return model.NewVectorClock(pruned)
}

// GetMaxTimestamp returns the maximum timestamp in the vector clock
func (v *VectorClockOps) GetMaxTimestamp(vc model.VectorClock) int64 {
	var max int64
	for _, entry := range vc.Entries() {
		if entry.LogicalTimestamp > max {
			max = entry.LogicalTimestamp
		}
	}
	return max
}

// dominance scans the union of keys of a and b, absent keys reading as zero.
// aAhead reports a coordinate where a exceeds b, bAhead the reverse.
// With stopOnConflict the scan ends as soon as both flags are set.
func dominance(a, b map[string]int64, stopOnConflict bool) (aAhead, bAhead bool) {
	for nodeID, av := range a {
		bv := b[nodeID]
		if av > bv {
			aAhead = true
		} else if bv > av {
			bAhead = true
		}
		if stopOnConflict && aAhead && bAhead {
			return
		}
	}
	for nodeID, bv := range b {
		if _, seen := a[nodeID]; seen {
			continue
		}
		if bv > 0 {
			bAhead = true
		}
		if stopOnConflict && aAhead && bAhead {
			return
		}
	}
	return
}
