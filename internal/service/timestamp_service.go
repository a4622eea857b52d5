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
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event types written by TimestampService
const (
	EventTypeLocal  = "LOCAL"
	EventTypeRemote = "REMOTE"
)

// DefaultConflictLimit caps DetectConflicts when the caller passes no limit
const DefaultConflictLimit = 10

// EventPublisher ships locally created events to other nodes
type EventPublisher interface {
	Publish(ctx context.Context, event *model.CausalityEvent)
}

// TimestampConfig configures a TimestampService
type TimestampConfig struct {
	DefaultConflictLimit int
	// DefaultStrategy is applied when ResolveConflict is called without one
	DefaultStrategy model.ResolutionStrategy
}

// TimestampService combines the three clocks into the composite operations
// used by event producers and receivers
type TimestampService struct {
	nodeID        string
	lamport       *LamportService
	vectorClock   *VectorClockService
	versionVector *VersionVectorService
	conflicts     *ConflictService
	eventLog      store.EventLog
	vcOps         *algorithm.VectorClockOps
	vvOps         *algorithm.VersionVectorOps
	cfg           TimestampConfig
	// clockMu orders composite advances so the three clocks of one
	// timestamp are taken together
	clockMu       sync.Mutex
	publisherMu   sync.RWMutex
	publisher     EventPublisher
	newID         func() string
	now           func() time.Time
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewTimestampService creates a new timestamp service
func NewTimestampService(
	lamport *LamportService,
	vectorClock *VectorClockService,
	versionVector *VersionVectorService,
	conflicts *ConflictService,
	eventLog store.EventLog,
	cfg TimestampConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *TimestampService {
	if cfg.DefaultConflictLimit <= 0 {
		cfg.DefaultConflictLimit = DefaultConflictLimit
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = model.StrategyMerge
	}
	return &TimestampService{
		nodeID:        lamport.NodeID(),
		lamport:       lamport,
		vectorClock:   vectorClock,
		versionVector: versionVector,
		conflicts:     conflicts,
		eventLog:      eventLog,
		vcOps:         algorithm.NewVectorClockOps(),
		vvOps:         algorithm.NewVersionVectorOps(),
		cfg:           cfg,
		newID:         uuid.NewString,
		now:           time.Now,
		logger:        logger,
		metrics:       m,
	}
}

// SetPublisher installs the publisher notified after CreateEvent
func (s *TimestampService) SetPublisher(p EventPublisher) {
	s.publisherMu.Lock()
	defer s.publisherMu.Unlock()
	s.publisher = p
}

// NodeID returns the local node ID
func (s *TimestampService) NodeID() string {
	return s.nodeID
}

// Lamport returns the Lamport clock manager
func (s *TimestampService) Lamport() *LamportService {
	return s.lamport
}

// VectorClock returns the vector clock manager
func (s *TimestampService) VectorClock() *VectorClockService {
	return s.vectorClock
}

// VersionVector returns the version vector manager
func (s *TimestampService) VersionVector() *VersionVectorService {
	return s.versionVector
}

// ProduceLocalTimestamp advances all three clocks for one local event
func (s *TimestampService) ProduceLocalTimestamp(ctx context.Context) model.Timestamp {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("produce_local_timestamp", time.Since(start).Seconds())
	}()

	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	return model.Timestamp{
		LogicalTime:   s.lamport.Tick(ctx),
		VectorClock:   s.vectorClock.Tick(ctx),
		VersionVector: s.versionVector.Increment(ctx),
	}
}

// IngestRemoteTimestamp folds a remote node's timestamps into the local
// clocks and returns the resulting local timestamps. The remote node is
// registered on first contact.
func (s *TimestampService) IngestRemoteTimestamp(ctx context.Context, remote model.RemoteTimestamp) model.Timestamp {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("ingest_remote_timestamp", time.Since(start).Seconds())
	}()

	if remote.NodeID != "" && remote.NodeID != s.nodeID {
		s.vectorClock.RegisterNode(ctx, remote.NodeID)
		s.versionVector.RegisterNode(ctx, remote.NodeID)
	}

	s.clockMu.Lock()
	ts := model.Timestamp{
		LogicalTime:   s.lamport.Sync(ctx, remote.LogicalTime),
		VectorClock:   s.vectorClock.Sync(ctx, remote.VectorClock),
		VersionVector: s.versionVector.Merge(ctx, remote.VersionVector),
	}
	s.clockMu.Unlock()

	s.logger.Debug("Ingested remote timestamp",
		zap.String("node_id", s.nodeID),
		zap.String("remote_node_id", remote.NodeID),
		zap.Int64("received_lamport_time", remote.LogicalTime),
		zap.Int64("lamport_time", ts.LogicalTime))
	return ts
}

// CreateEvent produces a local timestamp and appends the event to the log.
// The clocks have advanced even when the append fails.
func (s *TimestampService) CreateEvent(ctx context.Context, eventType string, payload json.RawMessage) (*model.CausalityEvent, error) {
	if eventType == "" {
		eventType = EventTypeLocal
	}

	ts := s.ProduceLocalTimestamp(ctx)
	event := model.NewCausalityEvent(s.newID(), s.nodeID, eventType, ts, payload, s.now())

	if err := s.eventLog.Append(ctx, event); err != nil {
		s.metrics.RecordEventLogged(eventType, "error")
		s.logger.Error("Failed to log event",
			zap.String("event_id", event.ID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return nil, wrapEventLogError(err)
	}
	s.metrics.RecordEventLogged(eventType, "ok")

	s.logger.Info("Created timestamp event",
		zap.String("event_id", event.ID),
		zap.String("event_type", eventType),
		zap.Int64("lamport_time", ts.LogicalTime),
		zap.String("node_id", s.nodeID))

	s.publisherMu.RLock()
	publisher := s.publisher
	s.publisherMu.RUnlock()
	if publisher != nil {
		publisher.Publish(ctx, event)
	}
	return event, nil
}

// SyncEvent ingests a remote timestamp and logs the event under the remote
// node's identity with the timestamps as received
func (s *TimestampService) SyncEvent(ctx context.Context, remote model.RemoteTimestamp, eventType string, payload json.RawMessage) (*model.CausalityEvent, error) {
	if eventType == "" {
		eventType = EventTypeRemote
	}

	synced := s.IngestRemoteTimestamp(ctx, remote)
	event := model.NewCausalityEvent(s.newID(), remote.NodeID, eventType, remote.Timestamp, payload, s.now())

	if err := s.eventLog.Append(ctx, event); err != nil {
		s.metrics.RecordEventLogged(eventType, "error")
		s.logger.Error("Failed to log synced event",
			zap.String("event_id", event.ID),
			zap.String("remote_node_id", remote.NodeID),
			zap.Error(err))
		return nil, wrapEventLogError(err)
	}
	s.metrics.RecordEventLogged(eventType, "ok")

	s.logger.Info("Synced timestamp event",
		zap.String("event_id", event.ID),
		zap.String("remote_node_id", remote.NodeID),
		zap.Int64("received_lamport_time", remote.LogicalTime),
		zap.Int64("lamport_time", synced.LogicalTime),
		zap.String("node_id", s.nodeID))
	return event, nil
}

// CompareTimestamps compares two events on all three clocks. Missing
// vectors compare as empty.
func (s *TimestampService) CompareTimestamps(a, b *model.CausalityEvent) model.TimestampComparison {
	var t1, t2 int64
	if a != nil {
		t1 = a.LamportTime
	}
	if b != nil {
		t2 = b.LamportTime
	}

	return model.TimestampComparison{
		LamportRelation:       algorithm.CompareLamport(t1, t2),
		LamportTime1:          t1,
		LamportTime2:          t2,
		VectorClockRelation:   s.vcOps.Compare(a.Clock(), b.Clock()),
		VersionVectorRelation: s.vvOps.Compare(a.Version(), b.Version()),
		HasConflict:           s.vvOps.HasConflict(a.Version(), b.Version()),
	}
}

// CompareEvents looks up two logged events and compares them
func (s *TimestampService) CompareEvents(ctx context.Context, id1, id2 string) (model.TimestampComparison, error) {
	e1, err := s.eventLog.Get(ctx, id1)
	if err != nil {
		return model.TimestampComparison{}, err
	}
	e2, err := s.eventLog.Get(ctx, id2)
	if err != nil {
		return model.TimestampComparison{}, err
	}
	return s.CompareTimestamps(e1, e2), nil
}

// DetectConflicts reports conflicting pairs among recent events
func (s *TimestampService) DetectConflicts(ctx context.Context, limit int) ([]model.ConflictReport, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultConflictLimit
	}
	return s.conflicts.DetectConflicts(ctx, limit)
}

// ResolveConflict resolves the local version vector against a conflicting
// one. An empty strategy uses the configured default.
func (s *TimestampService) ResolveConflict(ctx context.Context, conflicting model.VersionVector, strategy model.ResolutionStrategy) model.Resolution {
	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}
	return s.versionVector.ResolveConflict(ctx, conflicting, strategy)
}

// SyncAll converges the local clocks with the rest of the cluster: it folds
// in the global Lamport maximum and the persisted state of every registered
// peer. Nothing is counted as a local event, so once every node has seen the
// others' state repeated sweeps leave the clocks unchanged.
func (s *TimestampService) SyncAll(ctx context.Context) model.SyncResult {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("sync_all", time.Since(start).Seconds())
	}()

	var (
		globalMax int64
		clocks    map[string]model.VectorClock
		vectors   map[string]model.VersionVector
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		globalMax = s.lamport.GlobalMaxClock(gctx)
		return nil
	})
	g.Go(func() error {
		clocks = s.vectorClock.AllNodeClocks(gctx)
		return nil
	})
	g.Go(func() error {
		vectors = s.versionVector.AllNodeVectors(gctx)
		return nil
	})
	_ = g.Wait()

	clockPeers := make([]model.VectorClock, 0, len(clocks))
	for nodeID, vc := range clocks {
		if nodeID == s.nodeID || vc.IsEmpty() {
			continue
		}
		clockPeers = append(clockPeers, vc)
	}

	versionPeers := make([]model.VersionVector, 0, len(vectors))
	for nodeID, vv := range vectors {
		if nodeID == s.nodeID || vv.IsEmpty() {
			continue
		}
		versionPeers = append(versionPeers, vv)
	}

	s.clockMu.Lock()
	s.lamport.Observe(ctx, globalMax)

	if len(clockPeers) > 0 {
		peers := s.vcOps.Merge(clockPeers...)
		switch s.vcOps.Compare(peers, s.vectorClock.CurrentClock()) {
		case model.ClockAfter, model.ClockConcurrent:
			s.vectorClock.Merge(ctx, peers)
		}
	}

	if len(versionPeers) > 0 {
		peers := s.vvOps.Merge(versionPeers...)
		switch s.vvOps.Compare(peers, s.versionVector.CurrentVector()) {
		case model.VersionNewer, model.VersionConflict:
			s.versionVector.Merge(ctx, peers)
		}
	}
	s.clockMu.Unlock()

	result := model.SyncResult{
		SyncedAt:      s.now(),
		LamportTime:   s.lamport.CurrentTime(),
		VectorClock:   s.vectorClock.CurrentClock(),
		VersionVector: s.versionVector.CurrentVector(),
		ClockPeers:    len(clockPeers),
		VersionPeers:  len(versionPeers),
	}

	s.metrics.RecordSyncSweep("ok")
	s.logger.Info("All timestamps synced",
		zap.String("node_id", s.nodeID),
		zap.Int64("lamport_time", result.LamportTime),
		zap.Int("clock_peers", result.ClockPeers),
		zap.Int("version_peers", result.VersionPeers))
	return result
}

// Status returns a snapshot of the local clocks
func (s *TimestampService) Status() model.NodeStatus {
	return model.NodeStatus{
		NodeID:        s.nodeID,
		LamportTime:   s.lamport.CurrentTime(),
		VectorClock:   s.vectorClock.CurrentClock(),
		VersionVector: s.versionVector.CurrentVector(),
		Timestamp:     s.now(),
	}
}

// NodeEventHistory returns up to limit events logged under nodeID, most recent first
func (s *TimestampService) NodeEventHistory(ctx context.Context, nodeID string, limit int) ([]*model.CausalityEvent, error) {
	return s.eventLog.ListByNode(ctx, nodeID, limit)
}

// EventsInRange returns events created in [start, end] ordered by Lamport time
func (s *TimestampService) EventsInRange(ctx context.Context, start, end time.Time) ([]*model.CausalityEvent, error) {
	if end.Before(start) {
		return nil, cerrors.InvalidArgument("end of time range is before its start", nil)
	}
	return s.eventLog.ListByTimeRange(ctx, start, end)
}

// PurgeEventsBefore deletes logged events created before cutoff
func (s *TimestampService) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := s.eventLog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, wrapEventLogError(err)
	}
	if removed > 0 {
		s.logger.Info("Purged old events",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// RegisterNode adds a node to both registries
func (s *TimestampService) RegisterNode(ctx context.Context, nodeID string) {
	s.vectorClock.RegisterNode(ctx, nodeID)
	s.versionVector.RegisterNode(ctx, nodeID)
}

// UnregisterNode removes a node from both registries and deletes its state.
// The local node is never unregistered.
func (s *TimestampService) UnregisterNode(ctx context.Context, nodeID string) {
	if nodeID == s.nodeID {
		return
	}
	s.vectorClock.UnregisterNode(ctx, nodeID)
	s.versionVector.UnregisterNode(ctx, nodeID)
}

// Reset clears all three clocks
func (s *TimestampService) Reset(ctx context.Context) {
	s.lamport.Reset(ctx)
	s.vectorClock.Reset(ctx)
	s.versionVector.Reset(ctx)
}

func wrapEventLogError(err error) error {
	if cerrors.IsCausalityError(err) {
		return err
	}
	return cerrors.EventLogFailed("event log operation failed", err)
}
