package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "stepscaler:decision:"

// RedisStore stores decisions as JSON under per-service keys. Keys expire
// after ttl so stale services do not linger; a zero ttl keeps them forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Put(ctx context.Context, d Decision) error {
	if d.Service == "" {
		return errors.New("decision has no service")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, latestKey(d.Service), data, r.ttl)
	if d.Changed() {
		pipe.Set(ctx, changeKey(d.Service), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", d.Service, err)
	}
	return nil
}

func (r *RedisStore) GetLatest(ctx context.Context, service string) (Decision, bool, error) {
	return r.get(ctx, latestKey(service))
}

func (r *RedisStore) GetLastChange(ctx context.Context, service string) (Decision, bool, error) {
	return r.get(ctx, changeKey(service))
}

func (r *RedisStore) get(ctx context.Context, key string) (Decision, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, false, fmt.Errorf("unmarshal decision %s: %w", key, err)
	}
	return d, true, nil
}

func latestKey(service string) string { return redisKeyPrefix + service + ":latest" }
func changeKey(service string) string { return redisKeyPrefix + service + ":change" }
