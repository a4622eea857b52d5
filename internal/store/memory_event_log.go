package store

import (
	"context"
	"sort"
	"sync"
	"time"

	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/model"
)

// InMemoryEventLog implements EventLog with an append-only slice
type InMemoryEventLog struct {
	events []*model.CausalityEvent
	byID   map[string]int
	mu     sync.RWMutex
}

// NewInMemoryEventLog creates an empty event log
func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{
		byID: make(map[string]int),
	}
}

// Append adds an event; IDs must be unique
func (l *InMemoryEventLog) Append(ctx context.Context, event *model.CausalityEvent) error {
	if event == nil || event.ID == "" {
		return cerrors.InvalidArgument("event must have an id", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[event.ID]; exists {
		return cerrors.InvalidArgument("duplicate event id "+event.ID, nil)
	}
	l.byID[event.ID] = len(l.events)
	l.events = append(l.events, event)
	return nil
}

// Get returns the event with the given ID
func (l *InMemoryEventLog) Get(ctx context.Context, id string) (*model.CausalityEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return nil, cerrors.NotFound("event", id, ErrNotFound)
	}
	return l.events[idx], nil
}

// Recent returns up to limit events, most recent first
func (l *InMemoryEventLog) Recent(ctx context.Context, limit int) ([]*model.CausalityEvent, error) {
	return l.newestFirst(limit, func(*model.CausalityEvent) bool { return true }), nil
}

// ListByNode returns up to limit events of one node, most recent first
func (l *InMemoryEventLog) ListByNode(ctx context.Context, nodeID string, limit int) ([]*model.CausalityEvent, error) {
	return l.newestFirst(limit, func(e *model.CausalityEvent) bool { return e.NodeID == nodeID }), nil
}

// ListByTimeRange returns events created in [start, end] ordered by Lamport time
func (l *InMemoryEventLog) ListByTimeRange(ctx context.Context, start, end time.Time) ([]*model.CausalityEvent, error) {
	l.mu.RLock()
	out := make([]*model.CausalityEvent, 0)
	for _, e := range l.events {
		if !e.CreatedAt.Before(start) && !e.CreatedAt.After(end) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LamportTime < out[j].LamportTime
	})
	return out, nil
}

// DeleteBefore drops events created before cutoff
func (l *InMemoryEventLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	var removed int64
	for _, e := range l.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	l.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		l.byID[e.ID] = i
	}
	return removed, nil
}

// Len returns the number of logged events
func (l *InMemoryEventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *InMemoryEventLog) Ping(ctx context.Context) error {
	return nil
}

func (l *InMemoryEventLog) Close() {}

// newestFirst walks the log backwards. Events are appended in creation
// order, so insertion order breaks ties between equal timestamps.
func (l *InMemoryEventLog) newestFirst(limit int, keep func(*model.CausalityEvent) bool) []*model.CausalityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := make([]*model.CausalityEvent, 0, len(l.events))
	for i := len(l.events) - 1; i >= 0; i-- {
		if keep(l.events[i]) {
			ordered = append(ordered, l.events[i])
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}
