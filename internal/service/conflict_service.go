package service

import (
	"context"
	"time"

	"github.com/devrev/causality/internal/algorithm"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/store"
	"go.uber.org/zap"
)

// DefaultConflictWindow is the number of recent events scanned for conflicts
const DefaultConflictWindow = 100

// ConflictService detects write/write conflicts among recently logged events
type ConflictService struct {
	eventLog store.EventLog
	vvOps    *algorithm.VersionVectorOps
	window   int
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewConflictService creates a new conflict service
func NewConflictService(eventLog store.EventLog, window int, logger *zap.Logger, m *metrics.Metrics) *ConflictService {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &ConflictService{
		eventLog: eventLog,
		vvOps:    algorithm.NewVersionVectorOps(),
		window:   window,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// Window returns the number of recent events scanned
func (s *ConflictService) Window() int {
	return s.window
}

// DetectConflicts scans the most recent events and reports up to limit
// conflicting pairs. A limit of zero or less reports every pair found.
func (s *ConflictService) DetectConflicts(ctx context.Context, limit int) ([]model.ConflictReport, error) {
	events, err := s.eventLog.Recent(ctx, s.window)
	if err != nil {
		return nil, err
	}

	conflicts := s.DetectInEvents(events, limit)
	if len(conflicts) > 0 {
		s.metrics.RecordConflicts(len(conflicts))
		s.logger.Info("Detected version vector conflicts",
			zap.Int("events_scanned", len(events)),
			zap.Int("conflicts", len(conflicts)))
	}
	return conflicts, nil
}

// DetectInEvents compares every pair (i, j) with i < j. Pairs where either
// event lacks a version vector are skipped.
func (s *ConflictService) DetectInEvents(events []*model.CausalityEvent, limit int) []model.ConflictReport {
	conflicts := make([]model.ConflictReport, 0)
	detectedAt := s.now()

	for i := 0; i < len(events); i++ {
		e1 := events[i]
		if e1 == nil || e1.VersionVector == nil {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			e2 := events[j]
			if e2 == nil || e2.VersionVector == nil {
				continue
			}
			if !s.vvOps.HasConflict(*e1.VersionVector, *e2.VersionVector) {
				continue
			}

			conflicts = append(conflicts, model.ConflictReport{
				Event1ID:     e1.ID,
				Event2ID:     e2.ID,
				Node1:        e1.NodeID,
				Node2:        e2.NodeID,
				ConflictType: model.ConflictTypeVersionVector,
				DetectedAt:   detectedAt,
			})
			if limit > 0 && len(conflicts) >= limit {
				return conflicts
			}
		}
	}
	return conflicts
}
