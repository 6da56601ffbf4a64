package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"news_dispatch/internal/model"
)

// Redis is a Store and Deduper backed by Redis, for state that must
// survive restarts.
type Redis struct {
	client    *redis.Client
	prefix    string
	stateTTL  time.Duration
	dedupeTTL time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL, prefix string, stateTTL, dedupeTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", model.ErrConfiguration, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", model.ErrPersistence, err)
	}

	return &Redis{client: client, prefix: prefix, stateTTL: stateTTL, dedupeTTL: dedupeTTL}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) stateKey(key string) string { return r.prefix + "session:" + key }

func (r *Redis) dedupeKey(key string) string { return r.prefix + "update:" + key }

// Get returns the state of key.
func (r *Redis) Get(ctx context.Context, key string) (State, error) {
	v, err := r.client.Get(ctx, r.stateKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Idle, nil
	}
	if err != nil {
		return Idle, fmt.Errorf("%w: get session: %w", model.ErrPersistence, err)
	}
	return parseState(v), nil
}

// Set stores st for key with the state TTL. Setting Idle deletes the key.
func (r *Redis) Set(ctx context.Context, key string, st State) error {
	if st == Idle {
		return r.Clear(ctx, key)
	}
	if err := r.client.Set(ctx, r.stateKey(key), st.String(), r.stateTTL).Err(); err != nil {
		return fmt.Errorf("%w: set session: %w", model.ErrPersistence, err)
	}
	return nil
}

// Clear deletes key.
func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.stateKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: clear session: %w", model.ErrPersistence, err)
	}
	return nil
}

// MarkOnce records key with SETNX and reports whether it was new.
func (r *Redis) MarkOnce(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.dedupeKey(key), 1, r.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: mark update: %w", model.ErrPersistence, err)
	}
	return ok, nil
}
