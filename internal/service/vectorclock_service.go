package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devrev/causality/internal/algorithm"
	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// peerFetchConcurrency bounds parallel reads of peer vectors
const peerFetchConcurrency = 8

// VectorClockConfig configures a VectorClockService
type VectorClockConfig struct {
	MaxEntries     int
	GCThreshold    float64
	PersistTimeout time.Duration
}

// VectorClockService manages the local node's vector clock for causality tracking
type VectorClockService struct {
	nodeID   string
	current  model.VectorClock
	mu       sync.RWMutex
	vcOps    *algorithm.VectorClockOps
	registry *NodeRegistry
	guard    storeGuard
	cfg      VectorClockConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewVectorClockService creates a new vector clock service, registers the
// local node and recovers the node's persisted clock if there is one
func NewVectorClockService(
	ctx context.Context,
	nodeID string,
	st store.StateStore,
	cfg VectorClockConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *VectorClockService {
	guard := newStoreGuard(st, cfg.PersistTimeout, logger, m)
	s := &VectorClockService{
		nodeID:   nodeID,
		vcOps:    algorithm.NewVectorClockOps(),
		registry: newNodeRegistry("vector", store.VectorNodesKey, guard, logger, m),
		guard:    guard,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}

	s.registry.Register(ctx, nodeID)
	s.current = s.NodeClock(ctx, nodeID)
	s.metrics.SetVectorEntries(s.current.Len())

	logger.Info("Vector clock initialized",
		zap.String("node_id", nodeID),
		zap.Stringer("vector_clock", s.current))
	return s
}

// NodeID returns the local node ID
func (s *VectorClockService) NodeID() string {
	return s.nodeID
}

// Registry returns the vector clock node registry
func (s *VectorClockService) Registry() *NodeRegistry {
	return s.registry
}

// Tick advances the local coordinate and returns the new clock
func (s *VectorClockService) Tick(ctx context.Context) model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.vcOps.Increment(s.current, s.nodeID)
	s.persist(ctx)
	s.maybeGC(ctx)

	s.metrics.RecordClockOperation("vector", "tick")
	s.logger.Debug("Vector clock tick",
		zap.String("node_id", s.nodeID),
		zap.Stringer("vector_clock", s.current))
	return s.current
}

// Sync merges a received clock into the local one and then ticks
func (s *VectorClockService) Sync(ctx context.Context, remote model.VectorClock) model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	s.current = s.vcOps.Sync(previous, remote, s.nodeID)
	s.persist(ctx)
	s.maybeGC(ctx)

	s.metrics.RecordClockOperation("vector", "sync")
	s.logger.Debug("Vector clock sync",
		zap.String("node_id", s.nodeID),
		zap.Stringer("current", previous),
		zap.Stringer("received", remote),
		zap.Stringer("vector_clock", s.current))
	return s.current
}

// Merge folds a received clock into the local one without counting a local
// event. A clock the local one already covers changes nothing.
func (s *VectorClockService) Merge(ctx context.Context, remote model.VectorClock) model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.vcOps.Merge(s.current, remote)
	if merged.Equal(s.current) {
		return s.current
	}
	previous := s.current
	s.current = merged
	s.persist(ctx)
	s.maybeGC(ctx)

	s.metrics.RecordClockOperation("vector", "merge")
	s.logger.Debug("Vector clock merge",
		zap.String("node_id", s.nodeID),
		zap.Stringer("current", previous),
		zap.Stringer("received", remote),
		zap.Stringer("vector_clock", s.current))
	return s.current
}

// CurrentClock returns the current clock. The value is immutable, so the
// caller's snapshot is unaffected by later ticks.
func (s *VectorClockService) CurrentClock() model.VectorClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentClock replaces the local clock
func (s *VectorClockService) SetCurrentClock(ctx context.Context, vc model.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = vc
	s.persist(ctx)
	s.logger.Info("Vector clock set",
		zap.String("node_id", s.nodeID),
		zap.Stringer("vector_clock", vc))
}

// Compare compares two vector clocks
func (s *VectorClockService) Compare(vc1, vc2 model.VectorClock) model.ClockRelation {
	return s.vcOps.Compare(vc1, vc2)
}

// HasCausalRelation reports whether one clock happened before the other
func (s *VectorClockService) HasCausalRelation(vc1, vc2 model.VectorClock) bool {
	rel := s.vcOps.Compare(vc1, vc2)
	return rel == model.ClockBefore || rel == model.ClockAfter
}

// AreConcurrent reports whether neither clock dominates the other
func (s *VectorClockService) AreConcurrent(vc1, vc2 model.VectorClock) bool {
	return s.vcOps.IsConcurrent(vc1, vc2)
}

// NodeClock reads a node's last persisted clock. Missing or unreadable
// data yields an empty clock.
func (s *VectorClockService) NodeClock(ctx context.Context, nodeID string) model.VectorClock {
	key := store.VectorClockKey(nodeID)
	data, err := s.guard.get(ctx, key)
	if err != nil {
		return model.VectorClock{}
	}

	var vc model.VectorClock
	if err := json.Unmarshal(data, &vc); err != nil {
		s.guard.absorb("get", key, cerrors.Serialization("vector clock", err))
		return model.VectorClock{}
	}
	return vc
}

// AllNodeClocks reads the persisted clock of every registered node
func (s *VectorClockService) AllNodeClocks(ctx context.Context) map[string]model.VectorClock {
	clocks := make(map[string]model.VectorClock)

	members, err := s.registry.Members(ctx)
	if err != nil {
		return clocks
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(peerFetchConcurrency)

	for _, nodeID := range members {
		nodeID := nodeID
		g.Go(func() error {
			vc := s.NodeClock(gctx, nodeID)
			mu.Lock()
			clocks[nodeID] = vc
			mu.Unlock()
			return nil // Missing peers read as empty
		})
	}
	_ = g.Wait()

	return clocks
}

// RegisterNode adds a node to the vector clock registry
func (s *VectorClockService) RegisterNode(ctx context.Context, nodeID string) {
	s.registry.Register(ctx, nodeID)
}

// UnregisterNode removes a node and deletes its persisted clock
func (s *VectorClockService) UnregisterNode(ctx context.Context, nodeID string) {
	s.registry.Unregister(ctx, nodeID)
	s.guard.delete(ctx, store.VectorClockKey(nodeID))
}

// GC prunes coordinates of unregistered nodes and returns how many were removed
func (s *VectorClockService) GC(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.performGC(ctx)
}

// Reset clears the clock and deletes the node's persisted clock
func (s *VectorClockService) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = model.VectorClock{}
	s.guard.delete(ctx, store.VectorClockKey(s.nodeID))
	s.metrics.SetVectorEntries(0)
	s.logger.Info("Vector clock reset", zap.String("node_id", s.nodeID))
}

// persist must be called with the write lock held
func (s *VectorClockService) persist(ctx context.Context) {
	s.metrics.SetVectorEntries(s.current.Len())

	key := store.VectorClockKey(s.nodeID)
	data, err := json.Marshal(s.current)
	if err != nil {
		s.guard.absorb("set", key, cerrors.Serialization("vector clock", err))
		return
	}
	s.guard.set(ctx, key, data)
}

func (s *VectorClockService) shouldGC() bool {
	if s.cfg.MaxEntries <= 0 {
		return false
	}
	return float64(s.current.Len()) > float64(s.cfg.MaxEntries)*s.cfg.GCThreshold
}

func (s *VectorClockService) maybeGC(ctx context.Context) {
	if s.shouldGC() {
		s.performGC(ctx)
	}
}

// performGC must be called with the write lock held. An unreadable
// registry skips the run rather than pruning against an empty set.
func (s *VectorClockService) performGC(ctx context.Context) int {
	members, err := s.registry.Members(ctx)
	if err != nil {
		s.logger.Warn("Skipping vector clock GC, registry unavailable",
			zap.String("node_id", s.nodeID),
			zap.Error(err))
		return 0
	}

	before := s.current.Len()
	s.current = s.vcOps.Prune(s.current, members, s.nodeID)
	removed := before - s.current.Len()
	s.persist(ctx)

	s.metrics.RecordGC(removed)
	s.logger.Info("Vector clock GC completed",
		zap.String("node_id", s.nodeID),
		zap.Int("entries_before", before),
		zap.Int("entries_after", s.current.Len()))
	return removed
}
