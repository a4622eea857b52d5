package store

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisTestStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStateStoreFromClient(client, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// stateStores runs a test against every StateStore implementation
func stateStores(t *testing.T, fn func(t *testing.T, s StateStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewInMemoryStateStore(zap.NewNop()))
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisTestStore(t)
		fn(t, s)
	})
}

func TestStateStore_GetSet(t *testing.T) {
	stateStores(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()

		_, err := s.Get(ctx, "missing")
		require.Error(t, err)
		assert.True(t, cerrors.IsNotFound(err))
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Set(ctx, "k", []byte("v1")))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, s.Set(ctx, "k", []byte("v2")))
		got, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		require.NoError(t, s.Delete(ctx, "k"))
		_, err = s.Get(ctx, "k")
		assert.True(t, cerrors.IsNotFound(err))
	})
}

func TestStateStore_Sets(t *testing.T) {
	stateStores(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()

		members, err := s.SetMembers(ctx, VectorNodesKey)
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, s.AddToSet(ctx, VectorNodesKey, "node-a"))
		require.NoError(t, s.AddToSet(ctx, VectorNodesKey, "node-b"))
		require.NoError(t, s.AddToSet(ctx, VectorNodesKey, "node-a"))

		members, err = s.SetMembers(ctx, VectorNodesKey)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"node-a", "node-b"}, members)

		require.NoError(t, s.RemoveFromSet(ctx, VectorNodesKey, "node-a"))
		require.NoError(t, s.RemoveFromSet(ctx, VectorNodesKey, "never-added"))

		members, err = s.SetMembers(ctx, VectorNodesKey)
		require.NoError(t, err)
		assert.Equal(t, []string{"node-b"}, members)
	})
}

func TestStateStore_ListsKeepNewestFirst(t *testing.T) {
	stateStores(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		key := VersionHistoryKey("node-a")

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.ListPushFront(ctx, key, []byte(strconv.Itoa(i))))
			require.NoError(t, s.ListTrim(ctx, key, 0, 2))
		}

		values, err := s.ListRange(ctx, key, 0, -1)
		require.NoError(t, err)
		require.Len(t, values, 3)
		assert.Equal(t, []byte("5"), values[0])
		assert.Equal(t, []byte("4"), values[1])
		assert.Equal(t, []byte("3"), values[2])

		values, err = s.ListRange(ctx, key, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("4")}, values)

		values, err = s.ListRange(ctx, VersionHistoryKey("nobody"), 0, -1)
		require.NoError(t, err)
		assert.Empty(t, values)
	})
}

func TestStateStore_MaxAndSet(t *testing.T) {
	stateStores(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()

		got, err := s.MaxAndSet(ctx, LamportGlobalKey, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got)

		got, err = s.MaxAndSet(ctx, LamportGlobalKey, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got, "a smaller proposal must not lower the stored value")

		got, err = s.MaxAndSet(ctx, LamportGlobalKey, 12)
		require.NoError(t, err)
		assert.Equal(t, int64(12), got)

		raw, err := s.Get(ctx, LamportGlobalKey)
		require.NoError(t, err)
		assert.Equal(t, "12", string(raw))
	})
}

func TestStateStore_MaxAndSetConcurrent(t *testing.T) {
	stateStores(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(v int64) {
				defer wg.Done()
				_, err := s.MaxAndSet(ctx, LamportGlobalKey, v)
				assert.NoError(t, err)
			}(int64(i))
		}
		wg.Wait()

		got, err := s.MaxAndSet(ctx, LamportGlobalKey, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(50), got)
	})
}

func TestInMemoryStateStore_ClosedIsUnavailable(t *testing.T) {
	s := NewInMemoryStateStore(zap.NewNop())
	require.NoError(t, s.Close())

	err := s.Set(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnavailable, cerrors.GetCode(err))
	assert.Error(t, s.Ping(context.Background()))
}

func TestInMemoryStateStore_CanceledContextIsTimeout(t *testing.T) {
	s := NewInMemoryStateStore(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	assert.True(t, cerrors.IsTimeout(err))
}

func TestInMemoryStateStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStateStore(zap.NewNop())
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'y'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
	assert.Equal(t, 1, s.Size())
}

func TestRedisStateStore_ServerDownIsUnavailable(t *testing.T) {
	s, mr := newRedisTestStore(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.True(t, cerrors.IsCausalityError(err))
}

func TestRedisStateStore_MaxAndSetRejectsGarbage(t *testing.T) {
	s, mr := newRedisTestStore(t)
	require.NoError(t, mr.Set(LamportGlobalKey, "not-a-number"))

	_, err := s.MaxAndSet(context.Background(), LamportGlobalKey, 3)
	assert.Error(t, err)
}

func TestNormalizeRange(t *testing.T) {
	tests := []struct {
		name        string
		length      int64
		start, stop int64
		lo, hi      int64
		ok          bool
	}{
		{"whole list", 5, 0, -1, 0, 4, true},
		{"head", 5, 0, 2, 0, 2, true},
		{"stop past end", 3, 0, 99, 0, 2, true},
		{"negative start", 5, -2, -1, 3, 4, true},
		{"empty list", 0, 0, -1, 0, 0, false},
		{"start after stop", 5, 3, 1, 0, 0, false},
		{"start past end", 3, 5, 9, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, ok := normalizeRange(tt.length, tt.start, tt.stop)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.lo, lo)
				assert.Equal(t, tt.hi, hi)
			}
		})
	}
}
