package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/causality/internal/model"
)

// ErrNotFound is returned when a key or record is not found
var ErrNotFound = errors.New("not found")

// StateStore is the durable key-value state shared by every node process.
// Implementations return typed errors from internal/errors so callers can
// tell timeouts, absent keys and decode failures apart.
type StateStore interface {
	// Key operations
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error

	// Set operations
	SetMembers(ctx context.Context, key string) ([]string, error)
	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error

	// List operations; indices follow Redis semantics (inclusive, negative from the end)
	ListPushFront(ctx context.Context, key string, value []byte) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// MaxAndSet atomically stores max(stored, proposed) and returns the stored value
	MaxAndSet(ctx context.Context, key string, proposed int64) (int64, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// EventLog is the append-only log of causality events
type EventLog interface {
	Append(ctx context.Context, event *model.CausalityEvent) error
	Get(ctx context.Context, id string) (*model.CausalityEvent, error)

	// Recent returns up to limit events, most recent first
	Recent(ctx context.Context, limit int) ([]*model.CausalityEvent, error)
	// ListByNode returns up to limit events logged under nodeID, most recent first
	ListByNode(ctx context.Context, nodeID string, limit int) ([]*model.CausalityEvent, error)
	// ListByTimeRange returns events created in [start, end], ordered by Lamport time
	ListByTimeRange(ctx context.Context, start, end time.Time) ([]*model.CausalityEvent, error)
	// DeleteBefore removes events created before cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close()
}
