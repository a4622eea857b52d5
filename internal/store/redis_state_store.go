package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errStoreClosed = errors.New("store closed")

// maxAndSetScript keeps the larger of the stored and proposed values
var maxAndSetScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or tonumber(current) < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[1])
  return ARGV[1]
else
  return current
end
`)

// RedisConfig holds the connection settings for RedisStateStore
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// RedisStateStore implements StateStore for Redis
type RedisStateStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisStateStore creates a new Redis state store and checks connectivity
func NewRedisStateStore(cfg RedisConfig, logger *zap.Logger) (*RedisStateStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis state store", zap.String("address", addr))
	return NewRedisStateStoreFromClient(client, logger), nil
}

// NewRedisStateStoreFromClient wraps an existing client
func NewRedisStateStoreFromClient(client redis.UniversalClient, logger *zap.Logger) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		logger: logger,
	}
}

// Get retrieves a value
func (s *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, cerrors.NotFound("key", key, ErrNotFound)
	}
	if err != nil {
		return nil, cerrors.Classify("get", key, err)
	}
	return data, nil
}

// Set stores a value without expiry
func (s *RedisStateStore) Set(ctx context.Context, key string, value []byte) error {
	return cerrors.Classify("set", key, s.client.Set(ctx, key, value, 0).Err())
}

// Delete removes keys
func (s *RedisStateStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return cerrors.Classify("del", keys[0], s.client.Del(ctx, keys...).Err())
}

// SetMembers returns the members of a set
func (s *RedisStateStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, cerrors.Classify("smembers", key, err)
	}
	return members, nil
}

// AddToSet adds a member to a set
func (s *RedisStateStore) AddToSet(ctx context.Context, key, member string) error {
	return cerrors.Classify("sadd", key, s.client.SAdd(ctx, key, member).Err())
}

// RemoveFromSet removes a member from a set
func (s *RedisStateStore) RemoveFromSet(ctx context.Context, key, member string) error {
	return cerrors.Classify("srem", key, s.client.SRem(ctx, key, member).Err())
}

// ListPushFront prepends a value to a list
func (s *RedisStateStore) ListPushFront(ctx context.Context, key string, value []byte) error {
	return cerrors.Classify("lpush", key, s.client.LPush(ctx, key, value).Err())
}

// ListTrim keeps only the elements in [start, stop]
func (s *RedisStateStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return cerrors.Classify("ltrim", key, s.client.LTrim(ctx, key, start, stop).Err())
}

// ListRange returns the elements in [start, stop]
func (s *RedisStateStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, cerrors.Classify("lrange", key, err)
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

// MaxAndSet runs the max-and-set script atomically on the server
func (s *RedisStateStore) MaxAndSet(ctx context.Context, key string, proposed int64) (int64, error) {
	result, err := maxAndSetScript.Run(ctx, s.client, []string{key}, strconv.FormatInt(proposed, 10)).Text()
	if err != nil {
		return 0, cerrors.Classify("maxandset", key, err)
	}
	stored, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, cerrors.Serialization(key, err)
	}
	return stored, nil
}

// Ping checks the Redis connection
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return cerrors.Classify("ping", "", s.client.Ping(ctx).Err())
}

// Close closes the Redis client
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
