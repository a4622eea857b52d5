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

const (
	DefaultHistoryLimit      = 100
	DefaultMergeHistoryLimit = 50
)

// VersionVectorConfig configures a VersionVectorService
type VersionVectorConfig struct {
	HistoryLimit      int
	MergeHistoryLimit int
	PersistTimeout    time.Duration
}

// VersionVectorService manages the local node's version vector, used to
// detect write/write conflicts between nodes
type VersionVectorService struct {
	nodeID   string
	current  model.VersionVector
	mu       sync.RWMutex
	vvOps    *algorithm.VersionVectorOps
	registry *NodeRegistry
	guard    storeGuard
	cfg      VersionVectorConfig
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewVersionVectorService creates the service, registers the local node
// and recovers its persisted vector
func NewVersionVectorService(
	ctx context.Context,
	nodeID string,
	st store.StateStore,
	cfg VersionVectorConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *VersionVectorService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MergeHistoryLimit <= 0 {
		cfg.MergeHistoryLimit = DefaultMergeHistoryLimit
	}

	guard := newStoreGuard(st, cfg.PersistTimeout, logger, m)
	s := &VersionVectorService{
		nodeID:   nodeID,
		vvOps:    algorithm.NewVersionVectorOps(),
		registry: newNodeRegistry("version", store.VersionNodesKey, guard, logger, m),
		guard:    guard,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}

	s.registry.Register(ctx, nodeID)
	s.current = s.NodeVector(ctx, nodeID)
	s.metrics.SetVersionEntries(s.current.Len())

	logger.Info("Version vector initialized",
		zap.String("node_id", nodeID),
		zap.Stringer("version_vector", s.current))
	return s
}

// NodeID returns the local node ID
func (s *VersionVectorService) NodeID() string {
	return s.nodeID
}

// Registry returns the version vector node registry
func (s *VersionVectorService) Registry() *NodeRegistry {
	return s.registry
}

// Increment bumps the local coordinate and records the result in history
func (s *VersionVectorService) Increment(ctx context.Context) model.VersionVector {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.vvOps.Increment(s.current, s.nodeID)
	s.persist(ctx)
	s.appendHistory(ctx, s.current)

	s.metrics.RecordClockOperation("version", "increment")
	s.logger.Debug("Version vector increment",
		zap.String("node_id", s.nodeID),
		zap.Stringer("version_vector", s.current))
	return s.current
}

// Set overrides one coordinate
func (s *VersionVectorService) Set(ctx context.Context, nodeID string, version int64) model.VersionVector {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.vvOps.Set(s.current, nodeID, version)
	s.persist(ctx)

	s.metrics.RecordClockOperation("version", "set")
	s.logger.Debug("Version vector set",
		zap.String("node_id", s.nodeID),
		zap.String("target_node_id", nodeID),
		zap.Int64("version", version))
	return s.current
}

// Merge takes the coordinate-wise maximum with other and records the merge
func (s *VersionVectorService) Merge(ctx context.Context, other model.VersionVector) model.VersionVector {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	s.current = s.vvOps.Merge(previous, other)
	s.persist(ctx)
	s.appendMergeRecord(ctx, model.MergeRecord{
		Timestamp: s.now(),
		Old:       previous,
		Incoming:  other,
		Result:    s.current,
	})

	s.metrics.RecordClockOperation("version", "merge")
	s.logger.Debug("Version vector merge",
		zap.String("node_id", s.nodeID),
		zap.Stringer("current", previous),
		zap.Stringer("received", other),
		zap.Stringer("version_vector", s.current))
	return s.current
}

// CurrentVector returns the current version vector
func (s *VersionVectorService) CurrentVector() model.VersionVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentVector replaces the local vector
func (s *VersionVectorService) SetCurrentVector(ctx context.Context, vv model.VersionVector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = vv
	s.persist(ctx)
	s.logger.Info("Version vector set",
		zap.String("node_id", s.nodeID),
		zap.Stringer("version_vector", vv))
}

// HasConflict reports whether the local vector conflicts with other
func (s *VersionVectorService) HasConflict(other model.VersionVector) bool {
	return s.vvOps.HasConflict(s.CurrentVector(), other)
}

// CompareTo classifies the local vector against other
func (s *VersionVectorService) CompareTo(other model.VersionVector) model.VersionRelation {
	return s.vvOps.Compare(s.CurrentVector(), other)
}

// Compare classifies vv1 against vv2
func (s *VersionVectorService) Compare(vv1, vv2 model.VersionVector) model.VersionRelation {
	return s.vvOps.Compare(vv1, vv2)
}

// NodeVector reads a node's last persisted vector. Missing or unreadable
// data yields an empty vector.
func (s *VersionVectorService) NodeVector(ctx context.Context, nodeID string) model.VersionVector {
	key := store.VersionVectorKey(nodeID)
	data, err := s.guard.get(ctx, key)
	if err != nil {
		return model.VersionVector{}
	}

	var vv model.VersionVector
	if err := json.Unmarshal(data, &vv); err != nil {
		s.guard.absorb("get", key, cerrors.Serialization("version vector", err))
		return model.VersionVector{}
	}
	return vv
}

// AllNodeVectors reads the persisted vector of every registered node
func (s *VersionVectorService) AllNodeVectors(ctx context.Context) map[string]model.VersionVector {
	vectors := make(map[string]model.VersionVector)

	members, err := s.registry.Members(ctx)
	if err != nil {
		return vectors
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(peerFetchConcurrency)

	for _, nodeID := range members {
		nodeID := nodeID
		g.Go(func() error {
			vv := s.NodeVector(gctx, nodeID)
			mu.Lock()
			vectors[nodeID] = vv
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return vectors
}

// ResolveConflict applies strategy to the local vector and a conflicting
// one. Merge and last-write-wins results become the new local vector;
// manual leaves the local vector unchanged.
func (s *VersionVectorService) ResolveConflict(ctx context.Context, conflicting model.VersionVector, strategy model.ResolutionStrategy) model.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	resolution := s.vvOps.Resolve(previous, conflicting, strategy)
	s.metrics.RecordResolution(string(resolution.Strategy))

	if resolution.ManualRequired {
		s.logger.Warn("Version vector conflict requires manual resolution",
			zap.String("node_id", s.nodeID),
			zap.Stringer("local", previous),
			zap.Stringer("conflicting", conflicting))
		return resolution
	}

	s.current = resolution.Vector
	s.persist(ctx)
	if resolution.Strategy == model.StrategyMerge {
		s.appendMergeRecord(ctx, model.MergeRecord{
			Timestamp: s.now(),
			Old:       previous,
			Incoming:  conflicting,
			Result:    s.current,
		})
	}

	s.logger.Info("Version vector conflict resolved",
		zap.String("node_id", s.nodeID),
		zap.String("strategy", string(resolution.Strategy)),
		zap.Stringer("version_vector", s.current))
	return resolution
}

// VersionHistory returns up to limit past vectors, most recent first
func (s *VersionVectorService) VersionHistory(ctx context.Context, limit int) []model.VersionVector {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}

	key := store.VersionHistoryKey(s.nodeID)
	history := make([]model.VersionVector, 0)
	for _, raw := range s.guard.listRange(ctx, key, limit) {
		var vv model.VersionVector
		if err := json.Unmarshal(raw, &vv); err != nil {
			s.guard.absorb("lrange", key, cerrors.Serialization("version vector", err))
			continue
		}
		history = append(history, vv)
	}
	return history
}

// MergeHistory returns up to limit merge records, most recent first
func (s *VersionVectorService) MergeHistory(ctx context.Context, limit int) []model.MergeRecord {
	if limit <= 0 || limit > s.cfg.MergeHistoryLimit {
		limit = s.cfg.MergeHistoryLimit
	}

	key := store.VersionMergeKey(s.nodeID)
	records := make([]model.MergeRecord, 0)
	for _, raw := range s.guard.listRange(ctx, key, limit) {
		var record model.MergeRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.guard.absorb("lrange", key, cerrors.Serialization("merge record", err))
			continue
		}
		records = append(records, record)
	}
	return records
}

// Version returns the local vector's coordinate for nodeID
func (s *VersionVectorService) Version(nodeID string) int64 {
	return s.CurrentVector().Get(nodeID)
}

// Sum returns the sum of all local coordinates
func (s *VersionVectorService) Sum() int64 {
	return s.CurrentVector().Sum()
}

// MaxVersion returns the largest local coordinate
func (s *VersionVectorService) MaxVersion() int64 {
	return s.CurrentVector().Max()
}

// RegisterNode adds a node to the version vector registry
func (s *VersionVectorService) RegisterNode(ctx context.Context, nodeID string) {
	s.registry.Register(ctx, nodeID)
}

// UnregisterNode removes a node and deletes its persisted vector and history
func (s *VersionVectorService) UnregisterNode(ctx context.Context, nodeID string) {
	s.registry.Unregister(ctx, nodeID)
	s.guard.delete(ctx,
		store.VersionVectorKey(nodeID),
		store.VersionHistoryKey(nodeID),
		store.VersionMergeKey(nodeID))
}

// Reset clears the vector and deletes the node's persisted state
func (s *VersionVectorService) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = model.VersionVector{}
	s.guard.delete(ctx,
		store.VersionVectorKey(s.nodeID),
		store.VersionHistoryKey(s.nodeID),
		store.VersionMergeKey(s.nodeID))
	s.metrics.SetVersionEntries(0)
	s.logger.Info("Version vector reset", zap.String("node_id", s.nodeID))
}

// persist must be called with the write lock held
func (s *VersionVectorService) persist(ctx context.Context) {
	s.metrics.SetVersionEntries(s.current.Len())

	key := store.VersionVectorKey(s.nodeID)
	data, err := json.Marshal(s.current)
	if err != nil {
		s.guard.absorb("set", key, cerrors.Serialization("version vector", err))
		return
	}
	s.guard.set(ctx, key, data)
}

func (s *VersionVectorService) appendHistory(ctx context.Context, vv model.VersionVector) {
	key := store.VersionHistoryKey(s.nodeID)
	data, err := json.Marshal(vv)
	if err != nil {
		s.guard.absorb("lpush", key, cerrors.Serialization("version vector", err))
		return
	}
	s.guard.pushCapped(ctx, key, data, s.cfg.HistoryLimit)
}

func (s *VersionVectorService) appendMergeRecord(ctx context.Context, record model.MergeRecord) {
	key := store.VersionMergeKey(s.nodeID)
	data, err := json.Marshal(record)
	if err != nil {
		s.guard.absorb("lpush", key, cerrors.Serialization("merge record", err))
		return
	}
	s.guard.pushCapped(ctx, key, data, s.cfg.MergeHistoryLimit)
}
