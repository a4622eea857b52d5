package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// PublisherConfig configures a PeerPublisher
type PublisherConfig struct {
	// StaticPeers are exchange addresses contacted regardless of gossip
	StaticPeers    []string
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
	DialOptions    []grpc.DialOption
}

// PeerPublisher ships locally created events to every known peer. Peers come
// from static configuration and from gossip membership.
type PeerPublisher struct {
	mu       sync.RWMutex
	peers    map[string]*Client
	dialOpts []grpc.DialOption
	dispatch *dispatcher
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewPeerPublisher creates a publisher and connects to the static peers
func NewPeerPublisher(cfg PublisherConfig, logger *zap.Logger, m *metrics.Metrics) *PeerPublisher {
	p := &PeerPublisher{
		peers:    make(map[string]*Client),
		dialOpts: cfg.DialOptions,
		dispatch: newDispatcher(cfg.Workers, cfg.QueueSize, cfg.PublishTimeout, logger),
		logger:   logger,
		metrics:  m,
	}
	for _, addr := range cfg.StaticPeers {
		p.AddPeer(addr, addr)
	}
	return p
}

// AddPeer adds or re-points a peer. An address already served under another
// name is not added twice, so a gossiped node that is also a static peer
// receives each event once.
func (p *PeerPublisher) AddPeer(nodeID, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.peers[nodeID]; ok {
		if existing.Addr() == addr {
			return
		}
		_ = existing.Close()
		delete(p.peers, nodeID)
	}

	for name, client := range p.peers {
		if client.Addr() == addr {
			p.logger.Debug("Peer address already known",
				zap.String("peer", nodeID),
				zap.String("known_as", name),
				zap.String("addr", addr))
			return
		}
	}

	client, err := NewClient(addr, p.dialOpts...)
	if err != nil {
		p.logger.Error("Failed to create peer client",
			zap.String("peer", nodeID),
			zap.String("addr", addr),
			zap.Error(err))
		return
	}
	p.peers[nodeID] = client
	p.logger.Info("Peer added",
		zap.String("peer", nodeID),
		zap.String("addr", addr))
}

// RemovePeer drops a peer and closes its connection
func (p *PeerPublisher) RemovePeer(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.peers[nodeID]
	if !ok {
		return
	}
	_ = client.Close()
	delete(p.peers, nodeID)
	p.logger.Info("Peer removed", zap.String("peer", nodeID))
}

// Peers returns the known peer names in sorted order
func (p *PeerPublisher) Peers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.peers))
	for name := range p.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish queues event for delivery to every peer and returns immediately
func (p *PeerPublisher) Publish(ctx context.Context, event *model.CausalityEvent) {
	if event == nil {
		return
	}
	req := NewIngestRequest(event)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, client := range p.peers {
		name, client := name, client
		ok := p.dispatch.trySubmit(task{
			peer: name,
			fn: func(ctx context.Context) error {
				_, err := client.Ingest(ctx, req)
				if err != nil {
					p.metrics.RecordTransportMessage("outbound", "error")
					return err
				}
				p.metrics.RecordTransportMessage("outbound", "ok")
				return nil
			},
		})
		if !ok {
			p.metrics.RecordTransportMessage("outbound", "dropped")
			p.logger.Warn("Publish queue full, event dropped for peer",
				zap.String("peer", name),
				zap.String("event_id", event.ID))
		}
	}
}

// Stats returns delivery counters
func (p *PeerPublisher) Stats() DispatcherStats {
	return p.dispatch.stats()
}

// Close stops delivery and closes every peer connection
func (p *PeerPublisher) Close(timeout time.Duration) error {
	err := p.dispatch.stop(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, client := range p.peers {
		_ = client.Close()
		delete(p.peers, name)
	}
	return err
}
