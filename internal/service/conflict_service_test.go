package service

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func eventWithVersion(id, nodeID string, version map[string]int64, createdAt time.Time) *model.CausalityEvent {
	ts := model.Timestamp{
		LogicalTime:   1,
		VectorClock:   clockOf(version),
		VersionVector: versionOf(version),
	}
	return model.NewCausalityEvent(id, nodeID, EventTypeLocal, ts, nil, createdAt)
}

func TestConflictService_DetectsIndependentWrites(t *testing.T) {
	log := store.NewInMemoryEventLog()
	ctx := context.Background()
	base := time.Now()

	// E1 and E2 are independent, E3 derives from both
	require.NoError(t, log.Append(ctx, eventWithVersion("E1", "A", map[string]int64{"A": 1}, base)))
	require.NoError(t, log.Append(ctx, eventWithVersion("E2", "B", map[string]int64{"B": 1}, base.Add(time.Second))))
	require.NoError(t, log.Append(ctx, eventWithVersion("E3", "A", map[string]int64{"A": 1, "B": 1}, base.Add(2*time.Second))))

	s := NewConflictService(log, 100, zap.NewNop(), newTestMetrics())
	conflicts, err := s.DetectConflicts(ctx, 10)
	require.NoError(t, err)

	require.Len(t, conflicts, 1)
	pair := []string{conflicts[0].Event1ID, conflicts[0].Event2ID}
	assert.ElementsMatch(t, []string{"E1", "E2"}, pair)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{conflicts[0].Node1, conflicts[0].Node2})
	assert.Equal(t, model.ConflictTypeVersionVector, conflicts[0].ConflictType)
	assert.False(t, conflicts[0].DetectedAt.IsZero())
}

func TestConflictService_SkipsMissingVectors(t *testing.T) {
	s := NewConflictService(store.NewInMemoryEventLog(), 0, zap.NewNop(), nil)
	now := time.Now()

	broken := eventWithVersion("X", "C", map[string]int64{"C": 5}, now)
	broken.VersionVector = nil

	events := []*model.CausalityEvent{
		eventWithVersion("E1", "A", map[string]int64{"A": 1}, now),
		broken,
		nil,
		eventWithVersion("E2", "B", map[string]int64{"B": 1}, now),
	}

	conflicts := s.DetectInEvents(events, 0)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "E1", conflicts[0].Event1ID)
	assert.Equal(t, "E2", conflicts[0].Event2ID)
	assert.Equal(t, DefaultConflictWindow, s.Window())
}

func TestConflictService_HonoursLimit(t *testing.T) {
	s := NewConflictService(store.NewInMemoryEventLog(), 100, zap.NewNop(), nil)
	now := time.Now()

	events := make([]*model.CausalityEvent, 0)
	for _, node := range []string{"A", "B", "C", "D"} {
		events = append(events, eventWithVersion("E"+node, node, map[string]int64{node: 1}, now))
	}

	assert.Len(t, s.DetectInEvents(events, 0), 6)
	assert.Len(t, s.DetectInEvents(events, 2), 2)
}

func TestConflictService_WindowBoundsScan(t *testing.T) {
	log := store.NewInMemoryEventLog()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, log.Append(ctx, eventWithVersion("old", "A", map[string]int64{"A": 1}, base)))
	require.NoError(t, log.Append(ctx, eventWithVersion("mid", "B", map[string]int64{"B": 1}, base.Add(time.Second))))
	require.NoError(t, log.Append(ctx, eventWithVersion("new", "B", map[string]int64{"B": 2}, base.Add(2*time.Second))))

	s := NewConflictService(log, 2, zap.NewNop(), nil)
	conflicts, err := s.DetectConflicts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, conflicts, "the only conflicting event is outside the window")
}
