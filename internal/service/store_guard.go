package service

import (
	"context"
	"time"

	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/store"
	"go.uber.org/zap"
)

// DefaultPersistTimeout bounds every best-effort store call
const DefaultPersistTimeout = 500 * time.Millisecond

// storeGuard runs state store calls under a bounded timeout and absorbs
// their failures. The clock managers treat the store as best-effort
// durability: the in-memory value stays authoritative for the process.
type storeGuard struct {
	store   store.StateStore
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newStoreGuard(st store.StateStore, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) storeGuard {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return storeGuard{
		store:   st,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// bounded limits ctx to the guard's timeout
func (g storeGuard) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// absorb logs and counts a store failure. Not-found is expected data
// absence and is neither logged as an error nor counted.
func (g storeGuard) absorb(op, key string, err error) {
	if err == nil || cerrors.IsNotFound(err) {
		return
	}
	code := cerrors.GetCode(err)
	g.metrics.RecordStoreError(op, code.String())
	g.logger.Error("State store operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.String("code", code.String()),
		zap.Error(err))
}

func (g storeGuard) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	data, err := g.store.Get(ctx, key)
	g.absorb("get", key, err)
	return data, err
}

func (g storeGuard) set(ctx context.Context, key string, value []byte) bool {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	err := g.store.Set(ctx, key, value)
	g.absorb("set", key, err)
	return err == nil
}

func (g storeGuard) delete(ctx context.Context, keys ...string) bool {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	err := g.store.Delete(ctx, keys...)
	if len(keys) > 0 {
		g.absorb("del", keys[0], err)
	}
	return err == nil
}

// pushCapped prepends value to a list and trims it to limit entries
func (g storeGuard) pushCapped(ctx context.Context, key string, value []byte, limit int) bool {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	if err := g.store.ListPushFront(ctx, key, value); err != nil {
		g.absorb("lpush", key, err)
		return false
	}
	if err := g.store.ListTrim(ctx, key, 0, int64(limit-1)); err != nil {
		g.absorb("ltrim", key, err)
		return false
	}
	return true
}

func (g storeGuard) listRange(ctx context.Context, key string, limit int) [][]byte {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	values, err := g.store.ListRange(ctx, key, 0, int64(limit-1))
	g.absorb("lrange", key, err)
	return values
}
