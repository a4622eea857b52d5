package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/causality/internal/metrics"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Registrar is told about nodes joining and leaving the cluster
type Registrar interface {
	RegisterNode(ctx context.Context, nodeID string)
	UnregisterNode(ctx context.Context, nodeID string)
}

// LamportClock is the local Lamport clock. Push/pull state carries its time
// so idle nodes catch up with the cluster between events.
type LamportClock interface {
	CurrentTime() int64
	Observe(ctx context.Context, t int64) int64
}

// PeerListener tracks the transport address of every live peer
type PeerListener interface {
	AddPeer(nodeID, addr string)
	RemovePeer(nodeID string)
}

// Config holds gossip configuration
type Config struct {
	Enabled           bool
	BindAddr          string
	BindPort          int
	SeedNodes         []string
	GossipInterval    time.Duration
	ProbeTimeout      time.Duration
	ProbeInterval     time.Duration
	UnregisterOnLeave bool
	// TransportAddr is advertised to peers in the node metadata
	TransportAddr string
}

// NodeMeta is the metadata each node gossips about itself. LamportTime is
// only set in push/pull state; memberlist metadata is not refreshed after
// join, so it carries identity alone.
type NodeMeta struct {
	NodeID        string `json:"node_id"`
	TransportAddr string `json:"transport_addr,omitempty"`
	LamportTime   int64  `json:"lamport_time,omitempty"`
}

// Service keeps the clock registries in line with gossip membership
type Service struct {
	cfg        Config
	nodeID     string
	registrar  Registrar
	lamport    LamportClock
	memberlist *memberlist.Memberlist

	mu        sync.RWMutex
	listeners []PeerListener
	baseCtx   context.Context

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates the membership service. lamport may be nil, in which
// case no Lamport time is exchanged.
func NewService(cfg Config, nodeID string, registrar Registrar, lamport LamportClock, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		cfg:       cfg,
		nodeID:    nodeID,
		registrar: registrar,
		lamport:   lamport,
		baseCtx:   context.Background(),
		logger:    logger,
		metrics:   m,
	}
}

// AddListener subscribes l to peer address changes
func (s *Service) AddListener(l PeerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start creates the memberlist and joins the seed nodes. Join failures are
// logged; the node keeps running alone until a peer contacts it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = s.nodeID
	if s.cfg.BindAddr != "" {
		mlConfig.BindAddr = s.cfg.BindAddr
	}
	mlConfig.BindPort = s.cfg.BindPort
	mlConfig.AdvertisePort = s.cfg.BindPort
	if s.cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = s.cfg.GossipInterval
	}
	if s.cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = s.cfg.ProbeTimeout
	}
	if s.cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = s.cfg.ProbeInterval
	}
	mlConfig.Delegate = &delegate{service: s}
	mlConfig.Events = &eventDelegate{service: s}
	mlConfig.LogOutput = zap.NewStdLog(s.logger.Named("memberlist")).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	if len(s.cfg.SeedNodes) > 0 {
		joined, err := ml.Join(s.cfg.SeedNodes)
		if err != nil {
			s.logger.Warn("Failed to join some seed nodes",
				zap.Strings("seed_nodes", s.cfg.SeedNodes),
				zap.Error(err))
		}
		s.logger.Info("Joined gossip cluster",
			zap.Int("contacted", joined),
			zap.Int("members", ml.NumMembers()))
	}
	return nil
}

// Members returns the names of the live cluster members
func (s *Service) Members() []string {
	if s.memberlist == nil {
		return []string{s.nodeID}
	}
	nodes := s.memberlist.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// Shutdown leaves the cluster gracefully and stops gossip
func (s *Service) Shutdown(timeout time.Duration) error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(timeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

func (s *Service) localMeta() NodeMeta {
	return NodeMeta{
		NodeID:        s.nodeID,
		TransportAddr: s.cfg.TransportAddr,
	}
}

func (s *Service) localState() NodeMeta {
	meta := s.localMeta()
	if s.lamport != nil {
		meta.LamportTime = s.lamport.CurrentTime()
	}
	return meta
}

// observeRemote folds a peer's Lamport time into the local clock without
// counting an event, so the exchange settles once both sides agree
func (s *Service) observeRemote(meta NodeMeta) {
	if s.lamport == nil || meta.NodeID == s.nodeID || meta.LamportTime <= 0 {
		return
	}
	before := s.lamport.CurrentTime()
	if now := s.lamport.Observe(s.context(), meta.LamportTime); now > before {
		s.logger.Debug("Lamport time raised from gossip",
			zap.String("node_id", meta.NodeID),
			zap.Int64("remote_lamport_time", meta.LamportTime),
			zap.Int64("lamport_time", now))
	}
}

func (s *Service) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func (s *Service) peerListeners() []PeerListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PeerListener(nil), s.listeners...)
}

func (s *Service) handleJoin(node *memberlist.Node) {
	s.metrics.RecordMembershipEvent("join")
	if node.Name == s.nodeID {
		return
	}

	meta := decodeMeta(node.Meta)
	s.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()),
		zap.String("transport_addr", meta.TransportAddr))

	s.registrar.RegisterNode(s.context(), node.Name)
	if meta.TransportAddr != "" {
		for _, l := range s.peerListeners() {
			l.AddPeer(node.Name, meta.TransportAddr)
		}
	}
}

func (s *Service) handleLeave(node *memberlist.Node) {
	s.metrics.RecordMembershipEvent("leave")
	if node.Name == s.nodeID {
		return
	}

	s.logger.Info("Node left",
		zap.String("node_id", node.Name),
		zap.Bool("unregister", s.cfg.UnregisterOnLeave))

	for _, l := range s.peerListeners() {
		l.RemovePeer(node.Name)
	}
	if s.cfg.UnregisterOnLeave {
		s.registrar.UnregisterNode(s.context(), node.Name)
	}
}

func (s *Service) handleUpdate(node *memberlist.Node) {
	s.metrics.RecordMembershipEvent("update")
	if node.Name == s.nodeID {
		return
	}

	meta := decodeMeta(node.Meta)
	s.logger.Debug("Node updated",
		zap.String("node_id", node.Name),
		zap.String("transport_addr", meta.TransportAddr))
	if meta.TransportAddr != "" {
		for _, l := range s.peerListeners() {
			l.AddPeer(node.Name, meta.TransportAddr)
		}
	}
}

func decodeMeta(data []byte) NodeMeta {
	var meta NodeMeta
	if len(data) == 0 {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

// delegate implements memberlist.Delegate
type delegate struct {
	service *Service
}

func (d *delegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(d.service.localMeta())
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

func (d *delegate) NotifyMsg(data []byte) {}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

func (d *delegate) LocalState(join bool) []byte {
	data, _ := json.Marshal(d.service.localState())
	return data
}

func (d *delegate) MergeRemoteState(buf []byte, join bool) {
	meta := decodeMeta(buf)
	if meta.NodeID == "" {
		return
	}
	d.service.logger.Debug("Merged remote gossip state",
		zap.String("node_id", meta.NodeID),
		zap.Int64("lamport_time", meta.LamportTime),
		zap.Bool("join", join))
	d.service.observeRemote(meta)
}

// eventDelegate implements memberlist.EventDelegate
type eventDelegate struct {
	service *Service
}

func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.handleJoin(node)
}

func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.handleLeave(node)
}

func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.handleUpdate(node)
}
