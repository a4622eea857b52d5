package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/devrev/causality/internal/algorithm"
	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/store"
	"go.uber.org/zap"
)

// LamportConfig configures a LamportService
type LamportConfig struct {
	PersistenceEnabled bool
	PersistTimeout     time.Duration
}

// LamportService owns the node's scalar logical clock. Every mutation
// holds the write lock across the in-memory update and its persistence
// so that concurrent writers never observe or store values out of order.
type LamportService struct {
	nodeID             string
	current            int64
	mu                 sync.RWMutex
	guard              storeGuard
	persistenceEnabled bool
	logger             *zap.Logger
	metrics            *metrics.Metrics
}

// NewLamportService creates the clock and recovers its last value. Recovery
// tries the node's own key, then the cluster-wide maximum, then starts at 0.
func NewLamportService(
	ctx context.Context,
	nodeID string,
	st store.StateStore,
	cfg LamportConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *LamportService {
	s := &LamportService{
		nodeID:             nodeID,
		guard:              newStoreGuard(st, cfg.PersistTimeout, logger, m),
		persistenceEnabled: cfg.PersistenceEnabled,
		logger:             logger,
		metrics:            m,
	}

	if s.persistenceEnabled {
		s.recover(ctx)
	}

	s.metrics.SetLamportTime(s.current)
	logger.Info("Lamport clock initialized",
		zap.String("node_id", nodeID),
		zap.Int64("lamport_time", s.current))
	return s
}

// NodeID returns the local node ID
func (s *LamportService) NodeID() string {
	return s.nodeID
}

// Tick advances the clock for a local event and returns the new time
func (s *LamportService) Tick(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current++
	s.persist(ctx, s.current)

	s.metrics.RecordClockOperation("lamport", "tick")
	s.logger.Debug("Lamport clock tick",
		zap.String("node_id", s.nodeID),
		zap.Int64("lamport_time", s.current))
	return s.current
}

// Sync folds in a received time: max(local, received) + 1
func (s *LamportService) Sync(ctx context.Context, received int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	s.current = algorithm.NextLamport(previous, received)
	s.persist(ctx, s.current)

	s.metrics.RecordClockOperation("lamport", "sync")
	s.logger.Debug("Lamport clock sync",
		zap.String("node_id", s.nodeID),
		zap.Int64("current", previous),
		zap.Int64("received", received),
		zap.Int64("lamport_time", s.current))
	return s.current
}

// CurrentTime returns the current logical time
func (s *LamportService) CurrentTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Observe raises the clock to t without counting an event. Values at or
// below the current time leave the clock and the store untouched, so
// repeated observation of the same cluster maximum is a no-op.
func (s *LamportService) Observe(ctx context.Context, t int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t <= s.current {
		return s.current
	}
	previous := s.current
	s.current = t
	s.persist(ctx, t)

	s.metrics.RecordClockOperation("lamport", "observe")
	s.logger.Debug("Lamport clock raised",
		zap.String("node_id", s.nodeID),
		zap.Int64("current", previous),
		zap.Int64("lamport_time", t))
	return s.current
}

// SetCurrentTime overrides the clock; used by operators. Negative times
// are rejected.
func (s *LamportService) SetCurrentTime(ctx context.Context, t int64) {
	if t < 0 {
		s.logger.Warn("Rejected negative Lamport time",
			zap.String("node_id", s.nodeID),
			zap.Int64("lamport_time", t))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = t
	s.persist(ctx, t)
	s.logger.Info("Lamport clock set",
		zap.String("node_id", s.nodeID),
		zap.Int64("lamport_time", t))
}

// SyncWithNode folds in the last persisted time of another node. When that
// time cannot be read the call degrades to a plain tick.
func (s *LamportService) SyncWithNode(ctx context.Context, remoteID string) int64 {
	key := store.LamportClockKey(remoteID)
	data, err := s.guard.get(ctx, key)
	if err != nil {
		s.logger.Warn("Cannot sync with node, clock not available",
			zap.String("node_id", s.nodeID),
			zap.String("remote_node_id", remoteID),
			zap.Error(err))
		return s.Tick(ctx)
	}

	remote, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		s.guard.absorb("get", key, cerrors.Serialization(key, err))
		return s.Tick(ctx)
	}
	return s.Sync(ctx, remote)
}

// GlobalMaxClock returns the cluster-wide maximum, or 0 when it cannot be read
func (s *LamportService) GlobalMaxClock(ctx context.Context) int64 {
	data, err := s.guard.get(ctx, store.LamportGlobalKey)
	if err != nil {
		return 0
	}
	t, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		s.guard.absorb("get", store.LamportGlobalKey, cerrors.Serialization(store.LamportGlobalKey, err))
		return 0
	}
	return t
}

// UpdateGlobalMaxClock proposes t as the cluster-wide maximum and returns
// the value now stored, or 0 when the store is unreachable
func (s *LamportService) UpdateGlobalMaxClock(ctx context.Context, t int64) int64 {
	ctx, cancel := s.guard.bounded(ctx)
	defer cancel()

	stored, err := s.guard.store.MaxAndSet(ctx, store.LamportGlobalKey, t)
	if err != nil {
		s.guard.absorb("maxandset", store.LamportGlobalKey, err)
		return 0
	}
	return stored
}

// Reset zeroes the clock and deletes the node's persisted time
func (s *LamportService) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = 0
	if s.persistenceEnabled {
		s.guard.delete(ctx, store.LamportClockKey(s.nodeID))
	}
	s.metrics.SetLamportTime(0)
	s.logger.Info("Lamport clock reset", zap.String("node_id", s.nodeID))
}

// persist must be called with the write lock held
func (s *LamportService) persist(ctx context.Context, t int64) {
	s.metrics.SetLamportTime(t)
	if !s.persistenceEnabled {
		return
	}
	if s.guard.set(ctx, store.LamportClockKey(s.nodeID), []byte(strconv.FormatInt(t, 10))) {
		s.UpdateGlobalMaxClock(ctx, t)
	}
}

func (s *LamportService) recover(ctx context.Context) {
	key := store.LamportClockKey(s.nodeID)
	data, err := s.guard.get(ctx, key)
	if err == nil {
		t, perr := strconv.ParseInt(string(data), 10, 64)
		if perr == nil && t < 0 {
			perr = fmt.Errorf("negative lamport time %d", t)
		}
		if perr == nil {
			s.current = t
			s.logger.Info("Recovered Lamport clock",
				zap.String("node_id", s.nodeID),
				zap.Int64("lamport_time", t))
			return
		}
		s.guard.absorb("get", key, cerrors.Serialization(key, perr))
	}

	if global := s.GlobalMaxClock(ctx); global > 0 {
		s.current = global
		s.logger.Info("Initialized Lamport clock from global maximum",
			zap.String("node_id", s.nodeID),
			zap.Int64("lamport_time", global))
	}
}
