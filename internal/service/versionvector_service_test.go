package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestVersionVector(t *testing.T, nodeID string, st store.StateStore, cfg VersionVectorConfig) *VersionVectorService {
	t.Helper()
	return NewVersionVectorService(context.Background(), nodeID, st, cfg, zap.NewNop(), newTestMetrics())
}

func TestVersionVectorService_IncrementRecordsHistory(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()
	cfg := VersionVectorConfig{HistoryLimit: 3, MergeHistoryLimit: 2, PersistTimeout: time.Second}
	s := newTestVersionVector(t, "n1", st, cfg)

	for i := 0; i < 5; i++ {
		s.Increment(ctx)
	}
	assert.Equal(t, int64(5), s.Version("n1"))

	history := s.VersionHistory(ctx, 10)
	require.Len(t, history, 3)
	assert.Equal(t, int64(5), history[0].Get("n1"))
	assert.Equal(t, int64(4), history[1].Get("n1"))
	assert.Equal(t, int64(3), history[2].Get("n1"))

	assert.Len(t, s.VersionHistory(ctx, 1), 1)
}

func TestVersionVectorService_MergeRecordsMergeHistory(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()
	cfg := VersionVectorConfig{HistoryLimit: 3, MergeHistoryLimit: 2, PersistTimeout: time.Second}
	s := newTestVersionVector(t, "n1", st, cfg)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Increment(ctx)
	got := s.Merge(ctx, versionOf(map[string]int64{"n2": 3}))
	assert.Equal(t, map[string]int64{"n1": 1, "n2": 3}, got.ToMap())

	s.Merge(ctx, versionOf(map[string]int64{"n3": 1}))
	s.Merge(ctx, versionOf(map[string]int64{"n2": 5}))

	records := s.MergeHistory(ctx, 0)
	require.Len(t, records, 2)
	assert.Equal(t, int64(5), records[0].Incoming.Get("n2"))
	assert.Equal(t, map[string]int64{"n1": 1, "n2": 3, "n3": 1}, records[0].Old.ToMap())
	assert.Equal(t, map[string]int64{"n1": 1, "n2": 5, "n3": 1}, records[0].Result.ToMap())
	assert.True(t, records[0].Timestamp.Equal(fixed))
}

func TestVersionVectorService_MergeIsIdempotent(t *testing.T) {
	s := newTestVersionVector(t, "n1", store.NewInMemoryStateStore(zap.NewNop()), testVersionVectorConfig())
	ctx := context.Background()

	other := versionOf(map[string]int64{"n2": 2, "n3": 1})
	once := s.Merge(ctx, other)
	twice := s.Merge(ctx, other)
	assert.True(t, once.Equal(twice))
}

func TestVersionVectorService_ConflictDetection(t *testing.T) {
	s := newTestVersionVector(t, "n1", store.NewInMemoryStateStore(zap.NewNop()), testVersionVectorConfig())
	ctx := context.Background()

	s.SetCurrentVector(ctx, versionOf(map[string]int64{"n1": 2, "n2": 1}))
	other := versionOf(map[string]int64{"n1": 1, "n2": 2})

	assert.True(t, s.HasConflict(other))
	assert.Equal(t, model.VersionConflict, s.CompareTo(other))
	assert.Equal(t, model.VersionNewer, s.CompareTo(versionOf(map[string]int64{"n1": 1})))
	assert.Equal(t, model.VersionOlder, s.Compare(versionOf(map[string]int64{"n1": 1}), other))
	assert.Equal(t, model.VersionEqual, s.CompareTo(versionOf(map[string]int64{"n1": 2, "n2": 1})))
}

func TestVersionVectorService_ResolveConflict(t *testing.T) {
	local := versionOf(map[string]int64{"n1": 2, "n2": 1})

	tests := []struct {
		name        string
		conflicting model.VersionVector
		strategy    model.ResolutionStrategy
		want        map[string]int64
		manual      bool
	}{
		{"merge", versionOf(map[string]int64{"n1": 1, "n2": 3}), model.StrategyMerge, map[string]int64{"n1": 2, "n2": 3}, false},
		{"lww remote larger", versionOf(map[string]int64{"n1": 1, "n2": 3}), model.StrategyLastWriteWins, map[string]int64{"n1": 1, "n2": 3}, false},
		{"lww tie keeps local", versionOf(map[string]int64{"n1": 1, "n2": 2}), model.StrategyLastWriteWins, map[string]int64{"n1": 2, "n2": 1}, false},
		{"manual", versionOf(map[string]int64{"n1": 1, "n2": 3}), model.StrategyManual, map[string]int64{"n1": 2, "n2": 1}, true},
		{"unknown falls back to merge", versionOf(map[string]int64{"n1": 1, "n2": 3}), model.ParseStrategy("bogus"), map[string]int64{"n1": 2, "n2": 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestVersionVector(t, "n1", store.NewInMemoryStateStore(zap.NewNop()), testVersionVectorConfig())
			ctx := context.Background()
			s.SetCurrentVector(ctx, local)

			res := s.ResolveConflict(ctx, tt.conflicting, tt.strategy)
			assert.Equal(t, tt.want, res.Vector.ToMap())
			assert.Equal(t, tt.manual, res.ManualRequired)
			assert.Equal(t, tt.want, s.CurrentVector().ToMap())
		})
	}
}

func TestVersionVectorService_DerivedMetrics(t *testing.T) {
	s := newTestVersionVector(t, "n1", store.NewInMemoryStateStore(zap.NewNop()), testVersionVectorConfig())
	ctx := context.Background()

	s.Set(ctx, "n2", 7)
	s.Increment(ctx)

	assert.Equal(t, int64(7), s.Version("n2"))
	assert.Equal(t, int64(0), s.Version("n9"))
	assert.Equal(t, int64(8), s.Sum())
	assert.Equal(t, int64(7), s.MaxVersion())
}

func TestVersionVectorService_NodeVectors(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()

	n1 := newTestVersionVector(t, "n1", st, testVersionVectorConfig())
	n2 := newTestVersionVector(t, "n2", st, testVersionVectorConfig())
	n2.Increment(ctx)
	n2.Increment(ctx)

	assert.Equal(t, int64(2), n1.NodeVector(ctx, "n2").Get("n2"))
	assert.True(t, n1.NodeVector(ctx, "nobody").IsEmpty())

	vectors := n1.AllNodeVectors(ctx)
	require.Len(t, vectors, 2)
	assert.True(t, vectors["n1"].IsEmpty())
	assert.Equal(t, int64(2), vectors["n2"].Get("n2"))
}

func TestVersionVectorService_UnregisterDeletesVectorAndHistory(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()

	n1 := newTestVersionVector(t, "n1", st, testVersionVectorConfig())
	n2 := newTestVersionVector(t, "n2", st, testVersionVectorConfig())
	n2.Increment(ctx)
	require.Len(t, n2.VersionHistory(ctx, 0), 1)

	n1.UnregisterNode(ctx, "n2")

	assert.True(t, n1.NodeVector(ctx, "n2").IsEmpty())
	assert.Empty(t, n2.VersionHistory(ctx, 0))
	members, err := n1.Registry().Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, members)
}

func TestVersionVectorService_RecoversPersistedVector(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()

	first := newTestVersionVector(t, "n1", st, testVersionVectorConfig())
	first.Increment(ctx)
	first.Merge(ctx, versionOf(map[string]int64{"n2": 4}))

	second := newTestVersionVector(t, "n1", st, testVersionVectorConfig())
	assert.Equal(t, map[string]int64{"n1": 1, "n2": 4}, second.CurrentVector().ToMap())
}

func TestVersionVectorService_StoreDown(t *testing.T) {
	s := newTestVersionVector(t, "n1", newFailingStore(), testVersionVectorConfig())
	ctx := context.Background()

	assert.Equal(t, int64(1), s.Increment(ctx).Get("n1"))
	assert.Equal(t, int64(3), s.Merge(ctx, versionOf(map[string]int64{"n2": 3})).Get("n2"))
	assert.Empty(t, s.VersionHistory(ctx, 10))
	assert.Empty(t, s.MergeHistory(ctx, 10))
	assert.Empty(t, s.AllNodeVectors(ctx))
}

func TestVersionVectorService_Reset(t *testing.T) {
	st := store.NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()
	s := newTestVersionVector(t, "n1", st, testVersionVectorConfig())

	s.Increment(ctx)
	s.Merge(ctx, versionOf(map[string]int64{"n2": 1}))
	s.Reset(ctx)

	assert.True(t, s.CurrentVector().IsEmpty())
	assert.Empty(t, s.VersionHistory(ctx, 0))
	assert.Empty(t, s.MergeHistory(ctx, 0))
}

func TestVersionVectorService_ConcurrentIncrements(t *testing.T) {
	s := newTestVersionVector(t, "n1", store.NewInMemoryStateStore(zap.NewNop()), testVersionVectorConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Increment(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(500), s.Version("n1"))
	assert.Len(t, s.VersionHistory(ctx, 0), DefaultHistoryLimit)
}
