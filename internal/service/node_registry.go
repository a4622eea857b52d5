package service

import (
	"context"

	"github.com/devrev/causality/internal/metrics"
	"go.uber.org/zap"
)

// NodeRegistry is the shared set of known node IDs for one clock kind.
// Vector clocks and version vectors keep separate registries.
type NodeRegistry struct {
	name    string
	key     string
	guard   storeGuard
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newNodeRegistry(name, key string, guard storeGuard, logger *zap.Logger, m *metrics.Metrics) *NodeRegistry {
	return &NodeRegistry{
		name:    name,
		key:     key,
		guard:   guard,
		logger:  logger,
		metrics: m,
	}
}

// Register adds nodeID to the registry
func (r *NodeRegistry) Register(ctx context.Context, nodeID string) bool {
	ctx, cancel := r.guard.bounded(ctx)
	defer cancel()

	if err := r.guard.store.AddToSet(ctx, r.key, nodeID); err != nil {
		r.guard.absorb("sadd", r.key, err)
		return false
	}
	r.logger.Debug("Node registered",
		zap.String("registry", r.name),
		zap.String("node_id", nodeID))
	r.refreshGauge(ctx)
	return true
}

// Unregister removes nodeID from the registry
func (r *NodeRegistry) Unregister(ctx context.Context, nodeID string) bool {
	ctx, cancel := r.guard.bounded(ctx)
	defer cancel()

	if err := r.guard.store.RemoveFromSet(ctx, r.key, nodeID); err != nil {
		r.guard.absorb("srem", r.key, err)
		return false
	}
	r.logger.Info("Node unregistered",
		zap.String("registry", r.name),
		zap.String("node_id", nodeID))
	r.refreshGauge(ctx)
	return true
}

// Members returns the registered node IDs. The error is returned rather
// than absorbed so callers can skip work that needs an accurate set.
func (r *NodeRegistry) Members(ctx context.Context) ([]string, error) {
	ctx, cancel := r.guard.bounded(ctx)
	defer cancel()

	members, err := r.guard.store.SetMembers(ctx, r.key)
	if err != nil {
		r.guard.absorb("smembers", r.key, err)
		return nil, err
	}
	return members, nil
}

func (r *NodeRegistry) refreshGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if members, err := r.guard.store.SetMembers(ctx, r.key); err == nil {
		r.metrics.SetRegisteredNodes(r.name, len(members))
	}
}
