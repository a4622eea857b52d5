package algorithm

import "github.com/devrev/causality/internal/model"

// NextLamport applies the receive rule max(local, received) + 1
func NextLamport(local, received int64) int64 {
	if received > local {
		return received + 1
	}
	return local + 1
}

// CompareLamport orders two Lamport times. Equal values cannot be ordered
// by a scalar clock and are reported as concurrent.
func CompareLamport(t1, t2 int64) model.ClockRelation {
	switch {
	case t1 < t2:
		return model.ClockBefore
	case t1 > t2:
		return model.ClockAfter
	default:
		return model.ClockConcurrent
	}
}
