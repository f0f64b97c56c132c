package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// RedisStore persists tokens under <prefix><key>, so several terminals can share one Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + name
}

func (r *RedisStore) get(ctx context.Context, name string) (string, error) {
	val, err := r.client.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: get %s: %w", name, err)
	}
	return val, nil
}

func (r *RedisStore) set(ctx context.Context, name, value string) error {
	if err := r.client.Set(ctx, r.key(name), value, 0).Err(); err != nil {
		return fmt.Errorf("tokenstore: set %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) del(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("tokenstore: clear %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, kind domain.TokenKind) (string, error) {
	key, err := keyFor(kind)
	if err != nil {
		return "", err
	}
	return r.get(ctx, key)
}

func (r *RedisStore) Set(ctx context.Context, kind domain.TokenKind, value string) error {
	key, err := keyFor(kind)
	if err != nil {
		return err
	}
	return r.set(ctx, key, value)
}

func (r *RedisStore) Clear(ctx context.Context, kind domain.TokenKind) error {
	key, err := keyFor(kind)
	if err != nil {
		return err
	}
	return r.del(ctx, key)
}

func (r *RedisStore) GetUser(ctx context.Context) (domain.UserProfile, error) {
	val, err := r.get(ctx, domain.UserStorageKey)
	if err != nil || val == "" {
		return nil, err
	}
	return domain.UserProfile(val), nil
}

func (r *RedisStore) SetUser(ctx context.Context, profile domain.UserProfile) error {
	return r.set(ctx, domain.UserStorageKey, string(profile))
}

func (r *RedisStore) ClearUser(ctx context.Context) error {
	return r.del(ctx, domain.UserStorageKey)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
