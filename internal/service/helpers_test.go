package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

// slowStateStore delays every Set by up to 200µs so writers interleave
type slowStateStore struct {
	*store.InMemoryStateStore
}

func (s slowStateStore) Set(ctx context.Context, key string, value []byte) error {
	time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
	return s.InMemoryStateStore.Set(ctx, key, value)
}

// MockStateStore is a mock implementation of store.StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStateStore) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStateStore) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *MockStateStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStateStore) AddToSet(ctx context.Context, key, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *MockStateStore) RemoveFromSet(ctx context.Context, key, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *MockStateStore) ListPushFront(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStateStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	args := m.Called(ctx, key, start, stop)
	return args.Error(0)
}

func (m *MockStateStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	args := m.Called(ctx, key, start, stop)
	if v := args.Get(0); v != nil {
		return v.([][]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStateStore) MaxAndSet(ctx context.Context, key string, proposed int64) (int64, error) {
	args := m.Called(ctx, key, proposed)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStateStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStateStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// newFailingStore returns a mock on which every call fails
func newFailingStore() *MockStateStore {
	m := &MockStateStore{}
	m.On("Get", mock.Anything, mock.Anything).Return(nil, errStoreDown)
	m.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("Delete", mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("SetMembers", mock.Anything, mock.Anything).Return(nil, errStoreDown)
	m.On("AddToSet", mock.Anything, mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("RemoveFromSet", mock.Anything, mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("ListPushFront", mock.Anything, mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("ListTrim", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errStoreDown)
	m.On("ListRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errStoreDown)
	m.On("MaxAndSet", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errStoreDown)
	m.On("Ping", mock.Anything).Return(errStoreDown)
	m.On("Close").Return(nil)
	return m
}

// failingEventLog rejects every append
type failingEventLog struct {
	*store.InMemoryEventLog
}

func (l failingEventLog) Append(ctx context.Context, event *model.CausalityEvent) error {
	return errStoreDown
}

// recordingPublisher captures published events
type recordingPublisher struct {
	events []*model.CausalityEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *model.CausalityEvent) {
	p.events = append(p.events, event)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func testLamportConfig() LamportConfig {
	return LamportConfig{PersistenceEnabled: true, PersistTimeout: time.Second}
}

func testVectorClockConfig() VectorClockConfig {
	return VectorClockConfig{MaxEntries: 1000, GCThreshold: 0.8, PersistTimeout: time.Second}
}

func testVersionVectorConfig() VersionVectorConfig {
	return VersionVectorConfig{HistoryLimit: 100, MergeHistoryLimit: 50, PersistTimeout: time.Second}
}

// newTestNode wires every service of one node over shared collaborators
func newTestNode(nodeID string, st store.StateStore, log store.EventLog) *TimestampService {
	ctx := context.Background()
	logger := zap.NewNop()
	m := newTestMetrics()

	lamport := NewLamportService(ctx, nodeID, st, testLamportConfig(), logger, m)
	vc := NewVectorClockService(ctx, nodeID, st, testVectorClockConfig(), logger, m)
	vv := NewVersionVectorService(ctx, nodeID, st, testVersionVectorConfig(), logger, m)
	conflicts := NewConflictService(log, DefaultConflictWindow, logger, m)
	return NewTimestampService(lamport, vc, vv, conflicts, log, TimestampConfig{}, logger, m)
}

func clockOf(entries map[string]int64) model.VectorClock {
	return model.NewVectorClock(entries)
}

func versionOf(entries map[string]int64) model.VersionVector {
	return model.NewVersionVector(entries)
}
