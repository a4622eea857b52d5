package membership

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/devrev/causality/internal/metrics"
	"github.com/hashicorp/memberlist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) RegisterNode(ctx context.Context, nodeID string) {
	m.Called(ctx, nodeID)
}

func (m *MockRegistrar) UnregisterNode(ctx context.Context, nodeID string) {
	m.Called(ctx, nodeID)
}

type peerSet struct {
	mu    sync.Mutex
	peers map[string]string
}

func (p *peerSet) AddPeer(nodeID, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[nodeID] = addr
}

func (p *peerSet) RemovePeer(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, nodeID)
}

// fakeClock mimics LamportService.Observe
type fakeClock struct {
	mu       sync.Mutex
	current  int64
	observed []int64
}

func (c *fakeClock) CurrentTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Observe(_ context.Context, t int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed = append(c.observed, t)
	if t > c.current {
		c.current = t
	}
	return c.current
}

func gossipNode(t *testing.T, name, transportAddr string) *memberlist.Node {
	t.Helper()
	meta, err := json.Marshal(NodeMeta{NodeID: name, TransportAddr: transportAddr})
	require.NoError(t, err)
	return &memberlist.Node{Name: name, Addr: net.ParseIP("10.0.0.2"), Port: 7946, Meta: meta}
}

func newTestService(cfg Config, registrar Registrar) (*Service, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewService(cfg, "n1", registrar, &fakeClock{current: 42}, zap.NewNop(), m), m
}

func TestService_JoinRegistersAndAddsPeer(t *testing.T) {
	registrar := &MockRegistrar{}
	registrar.On("RegisterNode", mock.Anything, "n2").Return()

	s, m := newTestService(Config{}, registrar)
	peers := &peerSet{peers: map[string]string{}}
	s.AddListener(peers)

	events := &eventDelegate{service: s}
	events.NotifyJoin(gossipNode(t, "n2", "10.0.0.2:9090"))

	registrar.AssertExpectations(t)
	assert.Equal(t, map[string]string{"n2": "10.0.0.2:9090"}, peers.peers)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MembershipEvents.WithLabelValues("join")))
}

func TestService_JoinOfSelfIsIgnored(t *testing.T) {
	registrar := &MockRegistrar{}
	s, _ := newTestService(Config{}, registrar)

	(&eventDelegate{service: s}).NotifyJoin(gossipNode(t, "n1", "10.0.0.1:9090"))

	registrar.AssertNotCalled(t, "RegisterNode", mock.Anything, mock.Anything)
}

func TestService_LeaveUnregistersWhenConfigured(t *testing.T) {
	tests := []struct {
		name       string
		unregister bool
	}{
		{"keep state", false},
		{"unregister", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registrar := &MockRegistrar{}
			registrar.On("RegisterNode", mock.Anything, "n2").Return()
			registrar.On("UnregisterNode", mock.Anything, "n2").Return()

			s, _ := newTestService(Config{UnregisterOnLeave: tt.unregister}, registrar)
			peers := &peerSet{peers: map[string]string{}}
			s.AddListener(peers)

			events := &eventDelegate{service: s}
			node := gossipNode(t, "n2", "10.0.0.2:9090")
			events.NotifyJoin(node)
			events.NotifyLeave(node)

			assert.Empty(t, peers.peers)
			if tt.unregister {
				registrar.AssertCalled(t, "UnregisterNode", mock.Anything, "n2")
			} else {
				registrar.AssertNotCalled(t, "UnregisterNode", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestService_UpdateRefreshesPeerAddress(t *testing.T) {
	registrar := &MockRegistrar{}
	s, _ := newTestService(Config{}, registrar)
	peers := &peerSet{peers: map[string]string{"n2": "old:1"}}
	s.AddListener(peers)

	(&eventDelegate{service: s}).NotifyUpdate(gossipNode(t, "n2", "new:2"))
	assert.Equal(t, "new:2", peers.peers["n2"])

	(&eventDelegate{service: s}).NotifyUpdate(&memberlist.Node{Name: "n3", Meta: []byte("garbage")})
	assert.NotContains(t, peers.peers, "n3")
}

func TestDelegate_NodeMeta(t *testing.T) {
	s, _ := newTestService(Config{TransportAddr: "10.0.0.1:9090"}, &MockRegistrar{})
	d := &delegate{service: s}

	var meta NodeMeta
	require.NoError(t, json.Unmarshal(d.NodeMeta(512), &meta))
	assert.Equal(t, NodeMeta{NodeID: "n1", TransportAddr: "10.0.0.1:9090"}, meta, "metadata is not refreshed, so it carries no clock")

	assert.Nil(t, d.NodeMeta(4), "metadata larger than the limit is not sent")

	var state NodeMeta
	require.NoError(t, json.Unmarshal(d.LocalState(false), &state))
	assert.Equal(t, NodeMeta{NodeID: "n1", TransportAddr: "10.0.0.1:9090", LamportTime: 42}, state)
}

func TestDelegate_MergeRemoteStateObservesLamportTime(t *testing.T) {
	s, _ := newTestService(Config{}, &MockRegistrar{})
	clock := s.lamport.(*fakeClock)
	d := &delegate{service: s}

	state := func(nodeID string, lt int64) []byte {
		data, err := json.Marshal(NodeMeta{NodeID: nodeID, LamportTime: lt})
		require.NoError(t, err)
		return data
	}

	d.MergeRemoteState(state("n2", 50), false)
	assert.Equal(t, int64(50), clock.CurrentTime())

	d.MergeRemoteState(state("n2", 30), false)
	assert.Equal(t, int64(50), clock.CurrentTime(), "older time leaves the clock alone")

	d.MergeRemoteState(state("n1", 90), false)
	d.MergeRemoteState(state("n3", 0), true)
	d.MergeRemoteState([]byte("not json"), true)
	assert.Equal(t, []int64{50, 30}, clock.observed, "own, empty and malformed state is skipped")

	var echoed NodeMeta
	require.NoError(t, json.Unmarshal(d.LocalState(false), &echoed))
	assert.Equal(t, int64(50), echoed.LamportTime)
}

func TestService_WithoutClock(t *testing.T) {
	s := NewService(Config{}, "n1", &MockRegistrar{}, nil, zap.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()))
	d := &delegate{service: s}

	d.MergeRemoteState([]byte(`{"node_id":"n2","lamport_time":5}`), false)

	var state NodeMeta
	require.NoError(t, json.Unmarshal(d.LocalState(false), &state))
	assert.Zero(t, state.LamportTime)
}

func TestService_MembersBeforeStart(t *testing.T) {
	s, _ := newTestService(Config{}, &MockRegistrar{})
	assert.Equal(t, []string{"n1"}, s.Members())
	assert.NoError(t, s.Shutdown(0))
}
