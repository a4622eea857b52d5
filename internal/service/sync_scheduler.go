package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SyncScheduler runs periodic cluster sync sweeps and event log retention
type SyncScheduler struct {
	timestamps *TimestampService
	interval   time.Duration
	retention  time.Duration
	logger     *zap.Logger
}

// NewSyncScheduler creates a scheduler. A retention of zero keeps events forever.
func NewSyncScheduler(timestamps *TimestampService, interval, retention time.Duration, logger *zap.Logger) *SyncScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &SyncScheduler{
		timestamps: timestamps,
		interval:   interval,
		retention:  retention,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled
func (s *SyncScheduler) Run(ctx context.Context) {
	s.logger.Info("Starting sync scheduler",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and, if retention is set, one purge
func (s *SyncScheduler) RunOnce(ctx context.Context) {
	s.timestamps.SyncAll(ctx)

	if s.retention <= 0 {
		return
	}
	cutoff := s.timestamps.now().Add(-s.retention)
	if _, err := s.timestamps.PurgeEventsBefore(ctx, cutoff); err != nil {
		s.logger.Error("Failed to purge old events",
			zap.Time("cutoff", cutoff),
			zap.Error(err))
	}
}
