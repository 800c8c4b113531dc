package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every cache key in Redis so a shared instance
// can host other applications.
const keyPrefix = "feedigest:"

// RedisStore persists cache entries in Redis so decisions survive
// process restarts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

type redisEntry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Undecodable entry: drop it and report a miss.
		_ = s.client.Del(ctx, keyPrefix+key).Err()
		return Entry{}, ErrMiss
	}
	return Entry{Payload: e.Payload, CreatedAt: e.CreatedAt}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, payload []byte, ttl *time.Duration) error {
	raw, err := json.Marshal(redisEntry{Payload: payload, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("redis marshal: %w", err)
	}
	var expiry time.Duration // 0 = no expiry
	if ttl != nil {
		expiry = *ttl
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, expiry).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every entry in the given namespace, e.g. "relevance".
// An empty namespace clears all feedigest keys.
func (s *RedisStore) Clear(ctx context.Context, namespace string) (int64, error) {
	pattern := keyPrefix + "*"
	if namespace != "" {
		pattern = keyPrefix + namespace + ":*"
	}

	var removed int64
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
