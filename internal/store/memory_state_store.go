package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	cerrors "github.com/devrev/causality/internal/errors"
	"go.uber.org/zap"
)

// InMemoryStateStore implements StateStore using in-process maps. It backs
// single-node deployments and tests; state does not survive the process.
type InMemoryStateStore struct {
	values map[string][]byte
	sets   map[string]map[string]struct{}
	lists  map[string][][]byte
	closed bool
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryStateStore creates a new in-memory state store
func NewInMemoryStateStore(logger *zap.Logger) *InMemoryStateStore {
	return &InMemoryStateStore{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][][]byte),
		logger: logger,
	}
}

// Get retrieves a value
func (s *InMemoryStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(ctx, "get", key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, cerrors.NotFound("key", key, ErrNotFound)
	}
	return cloneBytes(value), nil
}

// Set stores a value
func (s *InMemoryStateStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx, "set", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = cloneBytes(value)
	return nil
}

// Delete removes keys of any type
func (s *InMemoryStateStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.check(ctx, "del", ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.lists, key)
	}
	return nil
}

// SetMembers returns the members of a set in sorted order
func (s *InMemoryStateStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := s.check(ctx, "smembers", key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// AddToSet adds a member to a set
func (s *InMemoryStateStore) AddToSet(ctx context.Context, key, member string) error {
	if err := s.check(ctx, "sadd", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

// RemoveFromSet removes a member from a set
func (s *InMemoryStateStore) RemoveFromSet(ctx context.Context, key, member string) error {
	if err := s.check(ctx, "srem", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

// ListPushFront prepends a value to a list
func (s *InMemoryStateStore) ListPushFront(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx, "lpush", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	list = append([][]byte{cloneBytes(value)}, list...)
	s.lists[key] = list
	return nil
}

// ListTrim keeps only the elements in [start, stop]
func (s *InMemoryStateStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.check(ctx, "ltrim", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([][]byte(nil), list[lo:hi+1]...)
	return nil
}

// ListRange returns the elements in [start, stop]
func (s *InMemoryStateStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := s.check(ctx, "lrange", key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for _, v := range list[lo : hi+1] {
		out = append(out, cloneBytes(v))
	}
	return out, nil
}

// MaxAndSet stores max(stored, proposed) under the write lock
func (s *InMemoryStateStore) MaxAndSet(ctx context.Context, key string, proposed int64) (int64, error) {
	if err := s.check(ctx, "maxandset", key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok := s.values[key]; ok {
		current, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, cerrors.Serialization(key, err)
		}
		if current >= proposed {
			return current, nil
		}
	}
	s.values[key] = []byte(strconv.FormatInt(proposed, 10))
	return proposed, nil
}

// Ping checks the store is open
func (s *InMemoryStateStore) Ping(ctx context.Context) error {
	return s.check(ctx, "ping", "")
}

// Close marks the store closed; later calls fail as unavailable
func (s *InMemoryStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Debug("In-memory state store closed")
	return nil
}

// Size returns the number of stored keys of every type
func (s *InMemoryStateStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values) + len(s.sets) + len(s.lists)
}

func (s *InMemoryStateStore) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return cerrors.Classify(op, key, err)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return cerrors.Unavailable(op, key, errStoreClosed)
	}
	return nil
}

// normalizeRange maps Redis-style inclusive indices onto [0, length).
func normalizeRange(length, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if length == 0 || start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
